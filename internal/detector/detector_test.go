package detector

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/moodscan/internal/types"
)

type fakeCascade struct {
	dets []Detection
}

func (f fakeCascade) Detect(image.Image) []Detection { return f.dets }

func testFrame() *types.Frame {
	return &types.Frame{Image: image.NewGray(image.Rect(0, 0, 100, 100)), Source: types.SourceImage}
}

func TestLocateReturnsHighestScoringFace(t *testing.T) {
	cascade := fakeCascade{dets: []Detection{
		{Box: types.FaceBox{X: 1, Y: 1, Width: 10, Height: 10}, Score: 7},
		{Box: types.FaceBox{X: 50, Y: 50, Width: 30, Height: 30}, Score: 12},
		{Box: types.FaceBox{X: 5, Y: 5, Width: 40, Height: 40}, Score: 3},
	}}
	l := NewLocator("fake", func() (Cascade, error) { return cascade, nil }, 5)

	box, err := l.Locate(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, types.FaceBox{X: 50, Y: 50, Width: 30, Height: 30}, box)
}

func TestLocateNoFace(t *testing.T) {
	tests := []struct {
		name string
		dets []Detection
	}{
		{"no detections", nil},
		{"all below threshold", []Detection{{Box: types.FaceBox{Width: 10, Height: 10}, Score: 4.9}}},
		{"score equal to threshold", []Detection{{Box: types.FaceBox{Width: 10, Height: 10}, Score: 5}}},
		{"degenerate box", []Detection{{Box: types.FaceBox{Width: 0, Height: 10}, Score: 50}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocator("fake", func() (Cascade, error) { return fakeCascade{dets: tt.dets}, nil }, 5)
			_, err := l.Locate(context.Background(), testFrame())
			assert.ErrorIs(t, err, ErrNoFace)
		})
	}
}

func TestLoadIsSingleFlight(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	l := NewLocator("slow", func() (Cascade, error) {
		loads.Add(1)
		<-release
		return fakeCascade{}, nil
	}, 0)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background())
			errs <- err
		}()
	}

	// Let every caller reach the in-flight load before it completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), loads.Load())

	// Later callers hit the cache.
	_, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
}

func TestLoadFailureIsCached(t *testing.T) {
	var loads atomic.Int32
	boom := errors.New("corrupt cascade")
	l := NewLocator("models/facefinder", func() (Cascade, error) {
		loads.Add(1)
		return nil, boom
	}, 0)

	for i := 0; i < 3; i++ {
		_, err := l.Locate(context.Background(), testFrame())

		var loadErr *ModelLoadError
		require.True(t, errors.As(err, &loadErr), "expected ModelLoadError, got %v", err)
		assert.Equal(t, "models/facefinder", loadErr.Path)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), loads.Load(), "a failed load must not be retried per frame")
}

func TestLoadWaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	l := NewLocator("slow", func() (Cascade, error) {
		<-release
		return fakeCascade{}, nil
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPigoLocatorMissingCascade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facefinder")
	l := NewPigoLocator(path, DefaultParams())

	_, err := l.Locate(context.Background(), testFrame())

	var loadErr *ModelLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnpackRejectsBadScaleFactor(t *testing.T) {
	p := DefaultParams()
	p.ScaleFactor = 0.9
	_, err := UnpackPigoCascade([]byte{0}, p)
	assert.ErrorContains(t, err, "scale factor")
}

func TestBoxFromPigo(t *testing.T) {
	d := pigo.Detection{Row: 100, Col: 80, Scale: 40, Q: 9}

	assert.Equal(t, types.FaceBox{X: 60, Y: 80, Width: 40, Height: 40}, boxFromPigo(d, image.Point{}))
	assert.Equal(t, types.FaceBox{X: 70, Y: 85, Width: 40, Height: 40}, boxFromPigo(d, image.Pt(10, 5)))
}

func TestDefaultIsProcessWide(t *testing.T) {
	a := Default("first", DefaultParams())
	b := Default("second", DefaultParams())
	assert.Same(t, a, b)
}
