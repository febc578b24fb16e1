package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/pipeline"
	"github.com/andresmejia3/moodscan/internal/presenter"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
)

// funcRunner counts calls and delegates to fn with a 1-based call number.
type funcRunner struct {
	calls atomic.Int64
	fn    func(n int64) (pipeline.Outcome, error)
}

func (r *funcRunner) Run(ctx context.Context, src source.FrameSource) (pipeline.Outcome, error) {
	n := r.calls.Add(1)
	return r.fn(n)
}

func result(e types.Emotion, conf float64) pipeline.Outcome {
	return pipeline.Outcome{Result: types.Detected(e, conf)}
}

type fakeCamera struct {
	done chan struct{}
}

func newFakeCamera() *fakeCamera { return &fakeCamera{done: make(chan struct{})} }

func (f *fakeCamera) Kind() types.SourceKind { return types.SourceCamera }
func (f *fakeCamera) Done() <-chan struct{} { return f.done }
func (f *fakeCamera) Frame(ctx context.Context) (*types.Frame, error) {
	return &types.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), Source: types.SourceCamera}, nil
}

const tick = 10 * time.Millisecond

func TestStartThenImmediateStopNeverTicks(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Happy, 80), nil }}
	var hooks atomic.Int64
	c := NewController(runner, nil, Options{OnResult: func(context.Context, Event) { hooks.Add(1) }})

	require.NoError(t, c.Start(context.Background(), newFakeCamera(), 100*time.Millisecond))
	c.Stop()

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, runner.calls.Load())
	assert.Zero(t, hooks.Load())
	assert.Equal(t, Idle, c.Status())
	assert.False(t, c.State().Snapshot().HasResult)
}

func TestNoTicksAfterStop(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Neutral, 50), nil }}
	c := NewController(runner, nil, Options{})

	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, time.Millisecond)

	c.Stop()
	atStop := runner.calls.Load()

	time.Sleep(10 * tick)
	// At most the single cycle that was already in flight may still land.
	assert.LessOrEqual(t, runner.calls.Load(), atStop+1)
	assert.Equal(t, Idle, c.Status())
}

func TestRepeatedStartStopCycles(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Happy, 80), nil }}
	c := NewController(runner, nil, Options{})

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Start(context.Background(), newFakeCamera(), time.Millisecond))
		c.Stop()
		c.Stop()
	}
	assert.Equal(t, uint64(25), c.Session())
	assert.Equal(t, Idle, c.Status())

	// Stragglers from earlier sessions settle; after that nothing ticks.
	time.Sleep(20 * time.Millisecond)
	settled := runner.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, runner.calls.Load())
}

func TestStartWhileRunning(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Happy, 80), nil }}
	c := NewController(runner, nil, Options{})

	require.NoError(t, c.Start(context.Background(), newFakeCamera(), time.Hour))
	defer c.Stop()

	assert.ErrorIs(t, c.Start(context.Background(), newFakeCamera(), time.Hour), ErrAlreadyRunning)
	assert.Equal(t, Running, c.Status())
}

func TestStartRejectsBadInterval(t *testing.T) {
	c := NewController(&funcRunner{}, nil, Options{})
	assert.Error(t, c.Start(context.Background(), newFakeCamera(), 0))
	assert.Equal(t, Idle, c.Status())
}

func TestSwitchCancelsCameraLoop(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Sad, 61), nil }}
	c := NewController(runner, nil, Options{})

	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	assert.Eventually(t, func() bool { return c.State().Snapshot().HasDominant }, time.Second, time.Millisecond)

	c.Switch(types.SourceImage)
	atSwitch := runner.calls.Load()

	assert.Equal(t, Idle, c.Status())
	assert.Equal(t, types.SourceImage, c.Method())
	assert.False(t, c.State().Snapshot().HasResult, "switching clears the state")

	time.Sleep(10 * tick)
	assert.LessOrEqual(t, runner.calls.Load(), atSwitch+1)
	assert.False(t, c.State().Snapshot().HasResult, "a late camera result must not resurface")
}

func TestInFlightResultDiscardedAfterStop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	runner := &funcRunner{fn: func(n int64) (pipeline.Outcome, error) {
		if n == 1 {
			close(started)
			<-release
			defer close(finished)
		}
		return result(types.Angry, 90), nil
	}}
	var hooks atomic.Int64
	c := NewController(runner, nil, Options{OnResult: func(context.Context, Event) { hooks.Add(1) }})

	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	<-started
	c.Stop()
	close(release)
	<-finished

	time.Sleep(5 * tick)
	assert.False(t, c.State().Snapshot().HasResult)
	assert.Zero(t, hooks.Load())
}

func TestTickSkippedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	runner := &funcRunner{fn: func(n int64) (pipeline.Outcome, error) {
		if n == 1 {
			<-release
		}
		return result(types.Happy, 80), nil
	}}
	c := NewController(runner, nil, Options{})
	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	defer c.Stop()

	time.Sleep(10 * tick)
	assert.Equal(t, int64(1), runner.calls.Load(), "ticks must be dropped while a cycle is in flight")

	close(release)
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestOverlappingCallsLastCompletionWins(t *testing.T) {
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	runner := &funcRunner{fn: func(n int64) (pipeline.Outcome, error) {
		switch n {
		case 1:
			<-releaseFirst
			return result(types.Happy, 80), nil
		case 2:
			<-releaseSecond
			return result(types.Sad, 40), nil
		default:
			return pipeline.Outcome{}, detector.ErrNoFace
		}
	}}

	var mu sync.Mutex
	var order []types.Emotion
	c := NewController(runner, nil, Options{
		AllowOverlap: true,
		OnResult: func(_ context.Context, ev Event) {
			mu.Lock()
			order = append(order, ev.Snapshot.Dominant)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	defer c.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, time.Millisecond)

	// The later request completes first...
	close(releaseSecond)
	assert.Eventually(t, func() bool { return c.State().Snapshot().Dominant == types.Sad }, time.Second, time.Millisecond)

	// ...and the earlier one, completing last, overwrites it.
	close(releaseFirst)
	assert.Eventually(t, func() bool { return c.State().Snapshot().Dominant == types.Happy }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.Emotion{types.Sad, types.Happy}, order)
}

func TestPerTickErrorsKeepLoopRunning(t *testing.T) {
	errs := []error{
		detector.ErrNoFace,
		errors.New("connection refused"),
		source.ErrNoFrame,
	}
	runner := &funcRunner{fn: func(n int64) (pipeline.Outcome, error) {
		if int(n) <= len(errs) {
			return pipeline.Outcome{}, errs[n-1]
		}
		return result(types.Surprise, 70), nil
	}}
	c := NewController(runner, nil, Options{})
	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))
	defer c.Stop()

	assert.Eventually(t, func() bool { return c.State().Snapshot().Dominant == types.Surprise }, time.Second, time.Millisecond)
	assert.Equal(t, Running, c.Status())
}

func TestModelLoadErrorEndsSessionOnce(t *testing.T) {
	loadErr := &detector.ModelLoadError{Path: "facefinder", Err: errors.New("missing")}
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return pipeline.Outcome{}, loadErr }}

	var reported atomic.Int64
	c := NewController(runner, nil, Options{AllowOverlap: true, OnError: func(err error) {
		reported.Add(1)
	}})
	require.NoError(t, c.Start(context.Background(), newFakeCamera(), tick))

	err := c.Wait(context.Background())
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, Idle, c.Status())

	time.Sleep(5 * tick)
	assert.Equal(t, int64(1), reported.Load())
}

func TestSessionEndsWithSource(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Fear, 33), nil }}
	c := NewController(runner, nil, Options{})
	cam := newFakeCamera()

	require.NoError(t, c.Start(context.Background(), cam, tick))
	close(cam.done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, Idle, c.Status())

	// A new session may start after the source ended.
	require.NoError(t, c.Start(context.Background(), newFakeCamera(), time.Hour))
	c.Stop()
}

func TestParentContextEndsSession(t *testing.T) {
	runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Fear, 33), nil }}
	c := NewController(runner, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, newFakeCamera(), time.Hour))
	cancel()

	assert.Eventually(t, func() bool { return c.Status() == Idle }, time.Second, time.Millisecond)
	c.Stop()
}

func TestRunOnce(t *testing.T) {
	t.Run("writes result and notifies", func(t *testing.T) {
		runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return result(types.Angry, 73), nil }}
		var got Event
		c := NewController(runner, presenter.New(), Options{OnResult: func(_ context.Context, ev Event) { got = ev }})

		out, err := c.RunOnce(context.Background(), source.NewStill("a.png", image.NewGray(image.Rect(0, 0, 1, 1))))
		require.NoError(t, err)
		assert.Equal(t, types.Angry, out.Result.Emotion)
		assert.Equal(t, types.Angry, c.State().Snapshot().Dominant)
		assert.Equal(t, types.SourceImage, got.Source)
		assert.Zero(t, got.Session)
	})

	t.Run("error leaves state untouched", func(t *testing.T) {
		runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) { return pipeline.Outcome{}, detector.ErrNoFace }}
		state := presenter.New()
		state.Update(types.Detected(types.Happy, 80))
		c := NewController(runner, state, Options{})

		_, err := c.RunOnce(context.Background(), source.NewStill("a.png", image.NewGray(image.Rect(0, 0, 1, 1))))
		assert.ErrorIs(t, err, detector.ErrNoFace)
		assert.Equal(t, types.Happy, state.Snapshot().Dominant)
	})

	t.Run("backend no-face clears feedback", func(t *testing.T) {
		runner := &funcRunner{fn: func(int64) (pipeline.Outcome, error) {
			return pipeline.Outcome{Result: types.NoFace()}, nil
		}}
		state := presenter.New()
		state.Update(types.Detected(types.Happy, 80))
		c := NewController(runner, state, Options{})

		_, err := c.RunOnce(context.Background(), source.NewStill("a.png", image.NewGray(image.Rect(0, 0, 1, 1))))
		require.NoError(t, err)
		snap := state.Snapshot()
		assert.False(t, snap.HasDominant)
		assert.False(t, snap.ShowFeedback)
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
}
