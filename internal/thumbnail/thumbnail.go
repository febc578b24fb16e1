// Package thumbnail crops a located face out of a frame and downsamples it to
// the fixed square the classifier expects.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/moodscan/internal/types"
)

// Size is the edge length of every thumbnail, in pixels.
const Size = 48

// Quality is the JPEG quality used for the encoded thumbnail.
const Quality = 92

// ErrEmptyRegion means the face box does not overlap the frame at all.
var ErrEmptyRegion = errors.New("face box lies outside the frame")

// Clamp intersects box with bounds. The returned box may be empty.
func Clamp(box types.FaceBox, bounds image.Rectangle) types.FaceBox {
	r := box.Rect().Intersect(bounds)
	return types.FaceBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Extract crops box (clamped to the frame) out of frame and resamples it to
// Size x Size with bilinear filtering, whatever the aspect ratio of the box.
func Extract(frame *types.Frame, box types.FaceBox) (types.Thumbnail, error) {
	if frame == nil || frame.Image == nil {
		return types.Thumbnail{}, errors.New("nil frame")
	}
	clamped := Clamp(box, frame.Image.Bounds())
	if clamped.Width <= 0 || clamped.Height <= 0 {
		return types.Thumbnail{}, ErrEmptyRegion
	}

	face := imaging.Crop(frame.Image, clamped.Rect())
	small := imaging.Resize(face, Size, Size, imaging.Linear)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
		return types.Thumbnail{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return types.Thumbnail{JPEG: buf.Bytes(), Box: clamped}, nil
}
