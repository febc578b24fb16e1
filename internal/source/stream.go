package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/moodscan/internal/types"
	"github.com/andresmejia3/moodscan/internal/utils"
)

const megabyte = 1024 * 1024

// StreamConfig describes a continuous source.
type StreamConfig struct {
	Kind types.SourceKind
	// Input is the device (camera) or file path (video).
	Input string
	// Format is the ffmpeg demuxer for cameras, e.g. v4l2, avfoundation, dshow.
	Format string
	// StartTimeout bounds how long Start waits for the first frame.
	StartTimeout time.Duration
	// OnFrame, if set, is called from the reader goroutine for every frame read.
	OnFrame func(index int)
}

// Stream keeps the latest frame of an MJPEG stream, the way a <video> element
// always shows its current frame. Frames are decoded only when asked for.
type Stream struct {
	cfg StreamConfig

	mu     sync.Mutex
	latest []byte
	index  int
	status CameraStatus
	err    error

	cmd       *utils.SafeCommand
	cancel    context.CancelFunc
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	started   bool
}

// NewStream prepares a stream. Nothing runs until Start.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &Stream{
		cfg:    cfg,
		status: CameraInactive,
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// NewCamera prepares a live capture from device.
func NewCamera(format, device string, startTimeout time.Duration) *Stream {
	return NewStream(StreamConfig{
		Kind:         types.SourceCamera,
		Input:        device,
		Format:       format,
		StartTimeout: startTimeout,
	})
}

// NewVideo prepares realtime playback of the file at path.
func NewVideo(path string, onFrame func(int)) *Stream {
	return NewStream(StreamConfig{
		Kind:         types.SourceVideo,
		Input:        path,
		StartTimeout: 10 * time.Second,
		OnFrame:      onFrame,
	})
}

func (s *Stream) Kind() types.SourceKind { return s.cfg.Kind }

// Done is closed once the stream stops producing frames.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Status reports the device state: inactive before Start and after Close,
// active while frames flow, error if the stream died on its own.
func (s *Stream) Status() CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the reason the stream ended, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) inputArgs() []string {
	if s.cfg.Kind == types.SourceCamera {
		return CameraInputArgs(s.cfg.Format, s.cfg.Input)
	}
	return VideoInputArgs(s.cfg.Input, true)
}

// Start launches ffmpeg and blocks until the first frame arrives.
// Camera failures come back as *CameraAccessError.
func (s *Stream) Start(ctx context.Context) error {
	if s.started {
		return errors.New("stream already started")
	}
	s.started = true

	if err := s.checkInput(); err != nil {
		return s.fail(err, "")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cmd = NewFFmpegCmd(runCtx, s.inputArgs())

	out, err := s.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return s.fail(fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err), "")
	}
	if err := s.cmd.Start(); err != nil {
		cancel()
		return s.fail(fmt.Errorf("failed to start ffmpeg: %w", err), s.cmd.Logs())
	}

	slog.Debug("ffmpeg started", slog.String("kind", string(s.cfg.Kind)), slog.String("input", s.cfg.Input))

	go func() {
		s.consume(out)
		werr := s.cmd.Wait()
		s.finish(werr, runCtx.Err() != nil)
	}()

	return s.awaitFirst(ctx)
}

// StartReader consumes an already-open MJPEG stream, e.g. a pipe from another process.
func (s *Stream) StartReader(ctx context.Context, r io.Reader) error {
	if s.started {
		return errors.New("stream already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		s.consume(r)
		s.finish(nil, runCtx.Err() != nil)
	}()
	if c, ok := r.(io.Closer); ok {
		go func() {
			<-runCtx.Done()
			c.Close()
		}()
	}
	return s.awaitFirst(ctx)
}

func (s *Stream) checkInput() error {
	if s.cfg.Input == "" {
		return errors.New("no input configured")
	}
	// Only device nodes and files can be checked up front; avfoundation/dshow
	// take device names.
	if s.cfg.Kind == types.SourceVideo || strings.HasPrefix(s.cfg.Input, "/dev/") {
		if _, err := os.Stat(s.cfg.Input); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) fail(err error, logs string) error {
	s.mu.Lock()
	s.status = CameraError
	s.err = err
	s.mu.Unlock()
	s.closeDone()
	if s.cfg.Kind == types.SourceCamera {
		return &CameraAccessError{Device: s.cfg.Input, Err: err, Logs: logs}
	}
	return err
}

func (s *Stream) awaitFirst(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-s.first:
		return nil
	case <-s.done:
		select {
		case <-s.first:
			// Short input: frames arrived and the stream already ended.
			return nil
		default:
		}
		err := s.Err()
		if err == nil {
			err = errors.New("stream ended before the first frame")
		}
		return s.startError(err)
	case <-timer.C:
		s.Close()
		return s.startError(fmt.Errorf("no frame within %s", s.cfg.StartTimeout))
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

func (s *Stream) startError(err error) error {
	s.mu.Lock()
	s.status = CameraError
	s.mu.Unlock()
	if s.cfg.Kind == types.SourceCamera {
		return &CameraAccessError{Device: s.cfg.Input, Err: err, Logs: s.cmd.Logs()}
	}
	return err
}

// consume splits the stream into JPEG frames and keeps only the newest one.
func (s *Stream) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		s.mu.Lock()
		s.latest = frame
		s.index++
		idx := s.index
		if s.status == CameraInactive {
			s.status = CameraActive
		}
		s.mu.Unlock()

		s.firstOnce.Do(func() { close(s.first) })
		if s.cfg.OnFrame != nil {
			s.cfg.OnFrame(idx)
		}
	}
	if err := scanner.Err(); err != nil {
		s.mu.Lock()
		s.err = fmt.Errorf("frame scanner failed: %w", err)
		s.mu.Unlock()
	}
}

func (s *Stream) finish(waitErr error, cancelled bool) {
	s.mu.Lock()
	switch {
	case cancelled:
		s.status = CameraInactive
	case waitErr != nil:
		s.status = CameraError
		if s.err == nil {
			s.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
		}
	default:
		s.status = CameraInactive
	}
	s.mu.Unlock()
	s.closeDone()
}

func (s *Stream) closeDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Frame decodes the most recent frame. After the stream ends it returns ErrSourceClosed.
func (s *Stream) Frame(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-s.done:
		return nil, ErrSourceClosed
	default:
	}

	s.mu.Lock()
	data, idx := s.latest, s.index
	s.mu.Unlock()

	if data == nil {
		return nil, ErrNoFrame
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", idx, err)
	}
	return &types.Frame{Image: img, Index: idx, Source: s.cfg.Kind}, nil
}

// Close stops ffmpeg and waits for the reader to exit. Safe to call more than once.
func (s *Stream) Close() {
	if s.cancel == nil {
		s.closeDone()
		return
	}
	s.cancel()
	<-s.done
	s.mu.Lock()
	if s.status == CameraActive {
		s.status = CameraInactive
	}
	s.mu.Unlock()
}
