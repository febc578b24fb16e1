// Package detector finds the most prominent face in a frame.
//
// The face model is loaded lazily, once per process. The first caller triggers
// the load and concurrent callers wait on the same in-flight load. The outcome,
// failure included, is cached, so a broken model is reported once and never
// reloaded on every frame.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/andresmejia3/moodscan/internal/types"
)

// ErrNoFace means no detection cleared the quality threshold. It is a normal
// negative result; callers skip the cycle.
var ErrNoFace = errors.New("no face detected")

// ModelLoadError means the detection model could not be loaded. It is fatal for
// every detection feature.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load face model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Detection is a candidate face with its model score.
type Detection struct {
	Box   types.FaceBox
	Score float32
}

// Cascade runs a loaded face model over an image.
type Cascade interface {
	Detect(img image.Image) []Detection
}

// LoadFunc loads the model. It is called at most once per Locator.
type LoadFunc func() (Cascade, error)

// Locator returns the single most prominent face of a frame.
type Locator struct {
	name      string
	load      LoadFunc
	threshold float32

	group singleflight.Group

	mu      sync.Mutex
	loaded  bool
	cascade Cascade
	loadErr error
}

// NewLocator wraps a loader. name identifies the model in errors and logs.
// Detections scoring at or below threshold are ignored.
func NewLocator(name string, load LoadFunc, threshold float32) *Locator {
	return &Locator{name: name, load: load, threshold: threshold}
}

var (
	defaultOnce    sync.Once
	defaultLocator *Locator
)

// Default returns the process-wide pigo locator. The first call fixes the
// cascade path and parameters; later arguments are ignored.
func Default(path string, params Params) *Locator {
	defaultOnce.Do(func() {
		defaultLocator = NewPigoLocator(path, params)
	})
	return defaultLocator
}

// Load makes sure the model is loaded. Concurrent callers share one load.
// A caller whose ctx ends stops waiting; the load itself carries on for the others.
func (l *Locator) Load(ctx context.Context) (Cascade, error) {
	if c, err, ok := l.cached(); ok {
		return c, err
	}

	ch := l.group.DoChan("model", func() (interface{}, error) {
		if c, err, ok := l.cached(); ok {
			return c, err
		}

		slog.Debug("loading face model", slog.String("model", l.name))
		c, err := l.load()
		if err != nil {
			err = &ModelLoadError{Path: l.name, Err: err}
		}

		l.mu.Lock()
		l.loaded = true
		l.cascade = c
		l.loadErr = err
		l.mu.Unlock()

		if err == nil {
			slog.Info("face model loaded", slog.String("model", l.name))
		}
		return c, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Cascade), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Locator) cached() (Cascade, error, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cascade, l.loadErr, l.loaded
}

// Locate returns the box of the highest scoring face in frame, or ErrNoFace.
func (l *Locator) Locate(ctx context.Context, frame *types.Frame) (types.FaceBox, error) {
	cascade, err := l.Load(ctx)
	if err != nil {
		return types.FaceBox{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.FaceBox{}, err
	}

	best, ok := pickBest(cascade.Detect(frame.Image), l.threshold)
	if !ok {
		return types.FaceBox{}, ErrNoFace
	}
	return best.Box, nil
}

// pickBest keeps the highest scoring detection above threshold. Other faces
// are ignored.
func pickBest(dets []Detection, threshold float32) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range dets {
		if d.Score <= threshold || d.Box.Width <= 0 || d.Box.Height <= 0 {
			continue
		}
		if !found || d.Score > best.Score {
			best = d
			found = true
		}
	}
	return best, found
}
