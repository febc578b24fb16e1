package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
	"github.com/andresmejia3/moodscan/internal/utils"
)

// VideoOptions holds the video command flags.
type VideoOptions struct {
	Interval time.Duration
	NoBar    bool
}

var videoOpts VideoOptions

var videoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Play a video file in real time and classify it on an interval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := videoOpts
		if !cmd.Flags().Changed("interval") {
			opts.Interval = Cfg.VideoInterval
		}
		return runVideo(cmd.Context(), newRuntime(os.Stdout), args[0], opts)
	},
}

func init() {
	videoCmd.Flags().DurationVarP(&videoOpts.Interval, "interval", "n", 0, "Time between detections (default: $MOODSCAN_VIDEO_INTERVAL or 2s)")
	videoCmd.Flags().BoolVar(&videoOpts.NoBar, "no-progress", false, "Hide the playback progress bar")
	addCaptureFlags(videoCmd)
	rootCmd.AddCommand(videoCmd)
}

func runVideo(ctx context.Context, rt *runtime, path string, opts VideoOptions) error {
	if _, err := os.Stat(path); err != nil {
		utils.ShowError("Could not open video", err, nil)
		return errReported
	}
	rt.ctrl.Switch(types.SourceVideo)

	var bar *progressbar.ProgressBar
	onFrame := func(int) {}
	if !opts.NoBar {
		total := source.GetTotalFrames(ctx, path)
		if total <= 0 {
			total = -1 // spinner
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🎞️  "+filepath.Base(path)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		onFrame = func(n int) { _ = bar.Set(n) }
	}

	video := source.NewVideo(path, onFrame)
	if err := video.Start(ctx); err != nil {
		utils.ShowError("Video playback failed", err, nil)
		return errReported
	}
	defer video.Close()

	rt.rec.begin(ctx, types.SourceVideo, sourceIDFor(path))
	defer rt.rec.end()

	if err := rt.ctrl.Start(ctx, video, opts.Interval); err != nil {
		return err
	}
	waitErr := rt.ctrl.Wait(ctx)
	rt.ctrl.Stop()
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if err := video.Err(); err != nil {
		utils.ShowError("Video playback failed", err, nil)
		return errReported
	}
	if rt.ctrl.Err() != nil {
		return errReported
	}
	if waitErr != nil && ctx.Err() == nil {
		return waitErr
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "🛑 Playback interrupted.")
	} else {
		fmt.Fprintln(os.Stderr, "✅ Playback finished.")
	}
	return nil
}
