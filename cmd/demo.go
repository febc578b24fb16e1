package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/render"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
)

const demoHelp = `Commands:
  image <path>   classify a still image
  camera         start classifying the camera feed
  video <path>   start classifying a video file
  stop           stop the running capture
  show           print the latest result
  dismiss        hide the feedback message
  status         print the capture status
  help           print this help
  quit           exit`

// liveSource is a started camera or video stream.
type liveSource interface {
	source.Continuous
	Close()
}

// demo is an interactive session over one runtime. Switching the input
// method always resets the presentation state.
type demo struct {
	rt  *runtime
	out io.Writer

	cameraDevice   string
	cameraInterval time.Duration
	videoInterval  time.Duration
	openCamera     func(ctx context.Context) (liveSource, error)
	openVideo      func(ctx context.Context, path string) (liveSource, error)

	live liveSource
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Interactive session: switch between image, camera and video input",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := newDemo(newRuntime(os.Stdout), os.Stdout)
		return d.run(cmd.Context(), os.Stdin)
	},
}

func init() {
	addCaptureFlags(demoCmd)
	rootCmd.AddCommand(demoCmd)
}

func newDemo(rt *runtime, out io.Writer) *demo {
	return &demo{
		rt:             rt,
		out:            out,
		cameraDevice:   Cfg.CameraDevice,
		cameraInterval: Cfg.CameraInterval,
		videoInterval:  Cfg.VideoInterval,
		openCamera: func(ctx context.Context) (liveSource, error) {
			cam := source.NewCamera(Cfg.CameraFormat, Cfg.CameraDevice, Cfg.CameraStartTimeout)
			if err := cam.Start(ctx); err != nil {
				return nil, err
			}
			return cam, nil
		},
		openVideo: func(ctx context.Context, path string) (liveSource, error) {
			video := source.NewVideo(path, nil)
			if err := video.Start(ctx); err != nil {
				return nil, err
			}
			return video, nil
		},
	}
}

// run reads commands from in until quit, EOF or ctx is cancelled.
func (d *demo) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer d.stopLive()
	fmt.Fprintln(d.out, "🎭 moodscan demo. Type 'help' for commands.")
	for {
		fmt.Fprint(d.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(d.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := d.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one command line and reports whether the session should end.
func (d *demo) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(d.out, demoHelp)
	case "image":
		if arg == "" {
			fmt.Fprintln(d.out, "usage: image <path>")
			return false
		}
		d.stopLive()
		if err := runImage(ctx, d.rt, d.out, arg); err != nil && !errors.Is(err, errReported) {
			fmt.Fprintln(d.out, explain(err))
		}
	case "camera":
		d.startLive(ctx, types.SourceCamera, d.cameraDevice, d.cameraInterval, func() (liveSource, error) {
			return d.openCamera(ctx)
		})
	case "video":
		if arg == "" {
			fmt.Fprintln(d.out, "usage: video <path>")
			return false
		}
		d.startLive(ctx, types.SourceVideo, sourceIDFor(arg), d.videoInterval, func() (liveSource, error) {
			return d.openVideo(ctx, arg)
		})
	case "stop":
		if d.live == nil {
			fmt.Fprintln(d.out, "Nothing is running.")
			return false
		}
		d.stopLive()
		fmt.Fprintln(d.out, "🛑 Stopped.")
	case "show":
		snap := d.rt.ctrl.State().Snapshot()
		_ = render.Breakdown(d.out, snap)
		_ = render.Feedback(d.out, snap)
	case "dismiss":
		d.rt.ctrl.State().DismissFeedback()
	case "status":
		fmt.Fprintf(d.out, "method: %s, capture: %s\n", d.rt.ctrl.Method(), d.rt.ctrl.Status())
	default:
		fmt.Fprintf(d.out, "Unknown command %q. Type 'help' for commands.\n", fields[0])
	}
	return false
}

func (d *demo) startLive(ctx context.Context, kind types.SourceKind, sourceID string, interval time.Duration, open func() (liveSource, error)) {
	d.stopLive()
	d.rt.ctrl.Switch(kind)

	src, err := open()
	if err != nil {
		if !reportFatal(err) {
			fmt.Fprintf(d.out, "⚠️  Could not start %s: %v\n", kind, err)
		}
		return
	}

	d.rt.rec.begin(ctx, kind, sourceID)
	if err := d.rt.ctrl.Start(ctx, src, interval); err != nil {
		d.rt.rec.end()
		src.Close()
		fmt.Fprintf(d.out, "⚠️  %v\n", err)
		return
	}
	d.live = src
	fmt.Fprintf(d.out, "🟢 %s running every %v. Type 'stop' to end it.\n", kind, interval)
}

// stopLive ends the running capture, if any, and releases its stream.
func (d *demo) stopLive() {
	d.rt.ctrl.Stop()
	if d.live != nil {
		d.live.Close()
		d.live = nil
		d.rt.rec.end()
	}
}
