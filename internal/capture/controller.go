// Package capture drives the pipeline on a timer for continuous sources.
//
// A Controller is either Idle or Running. Each Start opens a new session with
// a monotonic id; a tick's result is written to the presentation state only if
// its session is still the current one and still running. Stop cancels the
// timer and returns once the timer goroutine has exited, so nothing ticks
// after it. Requests already in flight are left to finish, and their results
// are dropped.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/pipeline"
	"github.com/andresmejia3/moodscan/internal/presenter"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("capture session already running")

// Status is the controller state.
type Status int

const (
	Idle Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Runner executes one detection cycle. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, src source.FrameSource) (pipeline.Outcome, error)
}

// Event is passed to OnResult after a result has been written.
type Event struct {
	Session  uint64
	Tick     int
	Source   types.SourceKind
	Outcome  pipeline.Outcome
	Snapshot presenter.Snapshot
}

// Options tunes a Controller.
type Options struct {
	// AllowOverlap lets a tick start while the previous one is still in
	// flight. Results then land in completion order. When false, such ticks
	// are skipped.
	AllowOverlap bool

	// OnResult runs after every accepted write. It must not call Stop,
	// Reset or Switch.
	OnResult func(ctx context.Context, ev Event)

	// OnError receives errors that end a session, such as a model that
	// failed to load. Per-tick errors are only logged.
	OnError func(err error)
}

type session struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
	busy   atomic.Bool
	hooks  sync.WaitGroup
}

// Controller owns the presentation state and the single active timer.
type Controller struct {
	runner Runner
	state  *presenter.State
	opts   Options

	mu      sync.Mutex
	status  Status
	nextID  uint64
	cur     *session
	method  types.SourceKind
	lastErr error
}

// NewController creates an idle controller writing to state.
func NewController(runner Runner, state *presenter.State, opts Options) *Controller {
	if state == nil {
		state = presenter.New()
	}
	return &Controller{runner: runner, state: state, opts: opts}
}

func (c *Controller) State() *presenter.State { return c.state }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the id of the latest session, 0 before the first Start.
func (c *Controller) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

// Method is the input method recorded by the last Switch.
func (c *Controller) Method() types.SourceKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.method
}

// Err returns the error that ended the last session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start runs the pipeline against src every interval until Stop, until ctx
// ends, or until a continuous src reports it is done.
func (c *Controller) Start(ctx context.Context, src source.FrameSource, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid capture interval %v", interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Running {
		return ErrAlreadyRunning
	}

	c.nextID++
	loopCtx, cancel := context.WithCancel(ctx)
	sess := &session{id: c.nextID, cancel: cancel, done: make(chan struct{})}
	c.cur = sess
	c.status = Running
	c.lastErr = nil

	slog.Debug("capture session started",
		slog.Uint64("session", sess.id),
		slog.String("source", string(src.Kind())),
		slog.Duration("interval", interval),
	)
	go c.loop(ctx, loopCtx, sess, src, interval)
	return nil
}

// loop owns the ticker. Ticks run against parent so that Stop does not abort
// them; only the process context does.
func (c *Controller) loop(parent, ctx context.Context, sess *session, src source.FrameSource, interval time.Duration) {
	defer close(sess.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var srcDone <-chan struct{}
	if cont, ok := src.(source.Continuous); ok {
		srcDone = cont.Done()
	}

	tick := 0
	for {
		select {
		case <-ctx.Done():
			c.end(sess, nil)
			return
		case <-srcDone:
			slog.Debug("source finished", slog.Uint64("session", sess.id))
			c.end(sess, nil)
			return
		case <-ticker.C:
			if !c.opts.AllowOverlap && !sess.busy.CompareAndSwap(false, true) {
				slog.Debug("tick skipped, previous cycle still in flight", slog.Uint64("session", sess.id))
				continue
			}
			tick++
			go c.runTick(parent, sess, src, tick)
		}
	}
}

func (c *Controller) runTick(ctx context.Context, sess *session, src source.FrameSource, tick int) {
	if !c.opts.AllowOverlap {
		defer sess.busy.Store(false)
	}

	out, err := c.runner.Run(ctx, src)
	if err != nil {
		c.tickFailed(sess, tick, err)
		return
	}

	snap, ok := c.commit(sess, out.Result)
	if !ok {
		slog.Debug("discarding result of stopped session", slog.Uint64("session", sess.id), slog.Int("tick", tick))
		return
	}
	defer sess.hooks.Done()

	if c.opts.OnResult != nil {
		c.opts.OnResult(ctx, Event{
			Session:  sess.id,
			Tick:     tick,
			Source:   src.Kind(),
			Outcome:  out,
			Snapshot: snap,
		})
	}
}

// commit writes result if sess is still live. On success the caller owns one
// sess.hooks slot.
func (c *Controller) commit(sess *session, result types.ClassificationResult) (presenter.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != sess || c.status != Running {
		return presenter.Snapshot{}, false
	}
	sess.hooks.Add(1)
	return c.state.Update(result), true
}

func (c *Controller) tickFailed(sess *session, tick int, err error) {
	attrs := []any{slog.Uint64("session", sess.id), slog.Int("tick", tick), slog.Any("error", err)}

	var mle *detector.ModelLoadError
	switch {
	case errors.Is(err, detector.ErrNoFace):
		slog.Debug("no face in frame", attrs...)
	case errors.Is(err, source.ErrNoFrame):
		slog.Debug("no frame yet", attrs...)
	case errors.Is(err, source.ErrSourceClosed):
		slog.Debug("source closed", attrs...)
		c.end(sess, nil)
	case errors.As(err, &mle):
		if c.end(sess, err) {
			slog.Error("face model unavailable, stopping capture", attrs...)
			if c.opts.OnError != nil {
				c.opts.OnError(err)
			}
			sess.hooks.Done()
		}
	default:
		slog.Warn("capture cycle failed", attrs...)
	}
}

// end moves sess to Idle if it is still current. When err is non-nil and the
// session was live, the caller owns one sess.hooks slot.
func (c *Controller) end(sess *session, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != sess || c.status != Running {
		return false
	}
	c.status = Idle
	if err != nil {
		c.lastErr = err
		sess.hooks.Add(1)
	}
	sess.cancel()
	return true
}

// Stop ends the current session. It is safe to call at any time, any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	sess := c.cur
	if c.status == Running {
		slog.Debug("capture session stopped", slog.Uint64("session", sess.id))
	}
	c.status = Idle
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
	sess.hooks.Wait()
}

// Wait blocks until the current session ends on its own or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	sess := c.cur
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	select {
	case <-sess.done:
		sess.hooks.Wait()
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset stops the session and clears the presentation state.
func (c *Controller) Reset() {
	c.Stop()
	c.state.Clear()
}

// Switch resets and records method as the active input method.
func (c *Controller) Switch(method types.SourceKind) {
	c.Reset()
	c.mu.Lock()
	c.method = method
	c.mu.Unlock()
	slog.Debug("input method switched", slog.String("method", string(method)))
}

// RunOnce runs a single cycle outside any session. A detected or undetected
// backend answer is written to the state; any error is returned as is and
// leaves the state alone.
func (c *Controller) RunOnce(ctx context.Context, src source.FrameSource) (pipeline.Outcome, error) {
	out, err := c.runner.Run(ctx, src)
	if err != nil {
		return out, err
	}

	snap := c.state.Update(out.Result)
	if c.opts.OnResult != nil {
		c.opts.OnResult(ctx, Event{Source: src.Kind(), Outcome: out, Snapshot: snap})
	}
	return out, nil
}
