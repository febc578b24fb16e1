// Package pipeline runs one detect, crop and classify cycle over any frame source.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/thumbnail"
	"github.com/andresmejia3/moodscan/internal/types"
)

// Locator finds the most prominent face in a frame.
type Locator interface {
	Locate(ctx context.Context, frame *types.Frame) (types.FaceBox, error)
}

// Extractor turns a face region into a classifier thumbnail.
type Extractor interface {
	Extract(frame *types.Frame, box types.FaceBox) (types.Thumbnail, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(frame *types.Frame, box types.FaceBox) (types.Thumbnail, error)

func (f ExtractorFunc) Extract(frame *types.Frame, box types.FaceBox) (types.Thumbnail, error) {
	return f(frame, box)
}

// Classifier labels a thumbnail.
type Classifier interface {
	Classify(ctx context.Context, thumb types.Thumbnail) (types.ClassificationResult, error)
}

// Outcome is everything a successful cycle produced.
type Outcome struct {
	Result    types.ClassificationResult
	Thumbnail types.Thumbnail
	Frame     *types.Frame
}

// Pipeline holds the three stages shared by every input method.
type Pipeline struct {
	Locator    Locator
	Extractor  Extractor
	Classifier Classifier
}

// New builds a pipeline using the standard 48x48 thumbnail extractor.
func New(locator Locator, classifier Classifier) *Pipeline {
	return &Pipeline{
		Locator:    locator,
		Extractor:  ExtractorFunc(thumbnail.Extract),
		Classifier: classifier,
	}
}

// Run pulls one frame from src and pushes it through the stages in order.
// Errors keep their stage's type, so detector.ErrNoFace, ModelLoadError,
// NetworkError and friends are all reachable with errors.Is / errors.As.
func (p *Pipeline) Run(ctx context.Context, src source.FrameSource) (Outcome, error) {
	frame, err := src.Frame(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s frame: %w", src.Kind(), err)
	}

	box, err := p.Locator.Locate(ctx, frame)
	if err != nil {
		return Outcome{Frame: frame}, fmt.Errorf("locate face: %w", err)
	}

	thumb, err := p.Extractor.Extract(frame, box)
	if err != nil {
		return Outcome{Frame: frame}, fmt.Errorf("extract thumbnail: %w", err)
	}

	result, err := p.Classifier.Classify(ctx, thumb)
	if err != nil {
		return Outcome{Frame: frame, Thumbnail: thumb}, fmt.Errorf("classify: %w", err)
	}

	slog.Debug("cycle complete",
		slog.String("source", string(src.Kind())),
		slog.Int("frame", frame.Index),
		slog.Any("box", box),
	)
	return Outcome{Result: result, Thumbnail: thumb, Frame: frame}, nil
}
