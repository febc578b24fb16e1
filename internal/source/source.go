// Package source supplies frames to the pipeline: a decoded still image, or the
// most recent frame of an ffmpeg-fed camera or video stream.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/moodscan/internal/types"
)

var (
	// ErrSourceClosed is returned once a stream has ended or been closed.
	ErrSourceClosed = errors.New("frame source closed")
	// ErrNoFrame is returned when a stream is running but has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available yet")
)

// FrameSource is anything the pipeline can pull a frame from.
type FrameSource interface {
	Kind() types.SourceKind
	Frame(ctx context.Context) (*types.Frame, error)
}

// Continuous is a FrameSource that can end on its own (end of video, camera unplugged).
type Continuous interface {
	FrameSource
	Done() <-chan struct{}
}

// CameraStatus mirrors the device lifecycle shown to the user.
type CameraStatus string

const (
	CameraInactive CameraStatus = "inactive"
	CameraActive   CameraStatus = "active"
	CameraError    CameraStatus = "error"
)

// CameraAccessError means the capture device could not be opened or produced no frames.
type CameraAccessError struct {
	Device string
	Err    error
	Logs   string
}

func (e *CameraAccessError) Error() string {
	msg := fmt.Sprintf("camera %s unavailable: %v", e.Device, e.Err)
	if e.Logs != "" {
		msg += " (" + e.Logs + ")"
	}
	return msg
}

func (e *CameraAccessError) Unwrap() error { return e.Err }
