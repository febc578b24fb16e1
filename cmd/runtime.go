package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/archive"
	"github.com/andresmejia3/moodscan/internal/capture"
	"github.com/andresmejia3/moodscan/internal/classifier"
	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/pipeline"
	"github.com/andresmejia3/moodscan/internal/render"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/store"
	"github.com/andresmejia3/moodscan/internal/types"
	"github.com/andresmejia3/moodscan/internal/utils"
)

// CaptureOptions holds the flags shared by image, camera, video and demo.
type CaptureOptions struct {
	CaptureDir    string
	RemoteCapture bool
	AllowOverlap  bool
}

var captureOpts CaptureOptions

func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&captureOpts.CaptureDir, "capture-dir", "", "Save every classified thumbnail to this directory (default: $MOODSCAN_CAPTURE_DIR)")
	cmd.Flags().BoolVar(&captureOpts.RemoteCapture, "remote-capture", false, "Also upload every classified thumbnail to the backend's /capture route")
	cmd.Flags().BoolVar(&captureOpts.AllowOverlap, "allow-overlap", false, "Let ticks overlap instead of skipping while a request is in flight")
}

// remoteCapturer is the part of the classifier client the recorder uses.
type remoteCapturer interface {
	Capture(ctx context.Context, thumb types.Thumbnail, result types.ClassificationResult) (*classifier.CaptureResponse, error)
}

// recorder fans an accepted result out to the terminal, the capture dir,
// the remote archive and the history store.
type recorder struct {
	out        io.Writer
	captureDir string
	remote     remoteCapturer
	db         *store.Store

	mu        sync.Mutex
	sessionID uuid.UUID
}

// begin opens a history session, if history is enabled.
func (r *recorder) begin(ctx context.Context, kind types.SourceKind, sourceID string) {
	if r.db == nil {
		return
	}
	id, err := r.db.StartSession(ctx, kind, sourceID)
	if err != nil {
		slog.Warn("failed to start history session", slog.Any("error", err))
		return
	}
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// end closes the history session opened by begin.
func (r *recorder) end() {
	r.mu.Lock()
	id := r.sessionID
	r.sessionID = uuid.Nil
	r.mu.Unlock()

	if r.db == nil || id == uuid.Nil {
		return
	}
	// Background: the command context may already be cancelled by Ctrl+C.
	if err := r.db.EndSession(context.Background(), id); err != nil {
		slog.Warn("failed to end history session", slog.Any("error", err))
	}
}

// onResult is the capture.Controller hook.
func (r *recorder) onResult(ctx context.Context, ev capture.Event) {
	if ev.Session != 0 {
		fmt.Fprintf(r.out, "[%s] #%d %s\n", time.Now().Format("15:04:05"), ev.Tick, render.Line(ev.Snapshot))
	}

	result, thumb := ev.Outcome.Result, ev.Outcome.Thumbnail
	if r.captureDir != "" && len(thumb.JPEG) > 0 {
		if path, err := archive.Save(r.captureDir, thumb, result); err != nil {
			slog.Warn("failed to save capture", slog.Any("error", err))
		} else {
			slog.Debug("capture saved", slog.String("path", path))
		}
	}

	if r.remote != nil && result.FaceDetected && len(thumb.JPEG) > 0 {
		if resp, err := r.remote.Capture(ctx, thumb, result); err != nil {
			slog.Warn("remote capture failed", slog.Any("error", err))
		} else {
			slog.Debug("remote capture saved", slog.String("file", resp.File))
		}
	}

	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()
	if r.db != nil && id != uuid.Nil {
		if err := r.db.RecordClassification(ctx, id, result); err != nil {
			slog.Warn("failed to record classification", slog.Any("error", err))
		}
	}
}

// runtime is everything a capture command needs.
type runtime struct {
	client *classifier.Client
	ctrl   *capture.Controller
	rec    *recorder
}

func newRuntime(out io.Writer) *runtime {
	client := classifier.NewClient(Cfg.Endpoint, Cfg.RequestTimeout)
	locator := detector.Default(Cfg.CascadePath, Cfg.DetectorParams())

	captureDir := Cfg.CaptureDir
	if captureOpts.CaptureDir != "" {
		captureDir = captureOpts.CaptureDir
	}
	rec := &recorder{out: out, captureDir: captureDir, db: DB}
	if captureOpts.RemoteCapture {
		rec.remote = client
	}

	rt := &runtime{client: client, rec: rec}
	rt.ctrl = capture.NewController(pipeline.New(locator, client), nil, capture.Options{
		AllowOverlap: Cfg.AllowOverlap || captureOpts.AllowOverlap,
		OnResult:     rec.onResult,
		OnError: func(err error) {
			reportFatal(err)
		},
	})
	return rt
}

// reportFatal shows the errors a user has to act on in the boxed format and
// reports whether err was one of them.
func reportFatal(err error) bool {
	var mle *detector.ModelLoadError
	var cae *source.CameraAccessError
	switch {
	case errors.As(err, &mle):
		utils.ShowError("Face model could not be loaded", err, nil)
		return true
	case errors.As(err, &cae):
		utils.ShowError("Camera unavailable", cae.Err, &utils.SafeCommand{Stderr: bytes.NewBufferString(cae.Logs)})
		return true
	}
	return false
}

// explain turns a single-shot pipeline error into the message shown to the user.
func explain(err error) string {
	var netErr *classifier.NetworkError
	var protoErr *classifier.ProtocolError
	switch {
	case errors.Is(err, detector.ErrNoFace):
		return "🙈 No face detected in the image."
	case errors.As(err, &netErr):
		return fmt.Sprintf("🔌 Prediction backend unreachable at %s: %v", netErr.URL, netErr.Err)
	case errors.As(err, &protoErr):
		return fmt.Sprintf("⚠️  Prediction backend answered badly: %v", protoErr)
	default:
		return fmt.Sprintf("⚠️  %v", err)
	}
}

func sourceIDFor(path string) string {
	id, err := source.GenerateSourceID(path)
	if err != nil {
		return path
	}
	return id
}
