package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
	"github.com/andresmejia3/moodscan/internal/utils"
)

// CameraOptions holds the camera command flags.
type CameraOptions struct {
	Device   string
	Format   string
	Interval time.Duration
	Duration time.Duration
}

var cameraOpts CameraOptions

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Classify the live camera feed on an interval until Ctrl+C",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cameraOpts
		if !cmd.Flags().Changed("device") {
			opts.Device = Cfg.CameraDevice
		}
		if !cmd.Flags().Changed("format") {
			opts.Format = Cfg.CameraFormat
		}
		if !cmd.Flags().Changed("interval") {
			opts.Interval = Cfg.CameraInterval
		}
		return runCamera(cmd.Context(), newRuntime(os.Stdout), opts)
	},
}

func init() {
	cameraCmd.Flags().StringVarP(&cameraOpts.Device, "device", "d", "", "Capture device (default: $MOODSCAN_CAMERA_DEVICE or /dev/video0)")
	cameraCmd.Flags().StringVarP(&cameraOpts.Format, "format", "f", "", "ffmpeg input format: v4l2, avfoundation, dshow (default: $MOODSCAN_CAMERA_FORMAT or v4l2)")
	cameraCmd.Flags().DurationVarP(&cameraOpts.Interval, "interval", "n", 0, "Time between detections (default: $MOODSCAN_CAMERA_INTERVAL or 1.5s)")
	cameraCmd.Flags().DurationVar(&cameraOpts.Duration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	addCaptureFlags(cameraCmd)
	rootCmd.AddCommand(cameraCmd)
}

func runCamera(ctx context.Context, rt *runtime, opts CameraOptions) error {
	rt.ctrl.Switch(types.SourceCamera)

	cam := source.NewCamera(opts.Format, opts.Device, Cfg.CameraStartTimeout)
	fmt.Fprintf(os.Stderr, "📷 Opening camera %s (%s)...\n", opts.Device, opts.Format)
	if err := cam.Start(ctx); err != nil {
		if !reportFatal(err) {
			utils.ShowError("Camera unavailable", err, nil)
		}
		return errReported
	}
	defer cam.Close()
	fmt.Fprintf(os.Stderr, "🟢 Camera %s. Classifying every %v, Ctrl+C to stop.\n", cam.Status(), opts.Interval)

	rt.rec.begin(ctx, types.SourceCamera, opts.Device)
	defer rt.rec.end()

	runCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := rt.ctrl.Start(runCtx, cam, opts.Interval); err != nil {
		return err
	}
	err := rt.ctrl.Wait(runCtx)
	rt.ctrl.Stop()

	if cerr := cam.Err(); cerr != nil {
		utils.ShowError("Camera stream ended", cerr, nil)
		return errReported
	}
	if rt.ctrl.Err() != nil {
		// Already shown through the controller's OnError hook.
		return errReported
	}
	if err != nil && runCtx.Err() == nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "\n🛑 Camera stopped.")
	return nil
}
