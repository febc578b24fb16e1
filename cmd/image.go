package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/render"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
	"github.com/andresmejia3/moodscan/internal/utils"
)

var imageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Detect the emotion of the most prominent face in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := newRuntime(os.Stdout)
		return runImage(cmd.Context(), rt, os.Stdout, args[0])
	},
}

func init() {
	addCaptureFlags(imageCmd)
	rootCmd.AddCommand(imageCmd)
}

// runImage classifies one still image. A missing face is a normal outcome,
// not an error; every other failure is reported once.
func runImage(ctx context.Context, rt *runtime, out io.Writer, path string) error {
	still, err := source.OpenStill(path)
	if err != nil {
		utils.ShowError("Could not read image", err, nil)
		return errReported
	}

	rt.ctrl.Switch(types.SourceImage)
	rt.rec.begin(ctx, types.SourceImage, sourceIDFor(path))
	defer rt.rec.end()

	if _, err := rt.ctrl.RunOnce(ctx, still); err != nil {
		if reportFatal(err) {
			return errReported
		}
		fmt.Fprintln(out, explain(err))
		if errors.Is(err, detector.ErrNoFace) {
			return nil
		}
		return errReported
	}

	snap := rt.ctrl.State().Snapshot()
	if err := render.Breakdown(out, snap); err != nil {
		return err
	}
	return render.Feedback(out, snap)
}
