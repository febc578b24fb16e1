package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/mockserver"
	"github.com/andresmejia3/moodscan/internal/types"
)

// MockServerOptions holds the mock-server command flags.
type MockServerOptions struct {
	Port       int
	Emotion    string
	Confidence float64
	SaveDir    string
	Detect     bool
}

var mockOpts MockServerOptions

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve a canned prediction backend for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		emotion, err := types.ParseEmotion(mockOpts.Emotion)
		if err != nil {
			return err
		}

		opts := mockserver.Options{
			Emotion:    emotion,
			Confidence: mockOpts.Confidence,
			SaveDir:    mockOpts.SaveDir,
			Logger:     slog.Default(),
		}
		if mockOpts.Detect {
			opts.Locator = detector.Default(Cfg.CascadePath, Cfg.DetectorParams())
		}
		app := mockserver.New(opts)

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(fmt.Sprintf(":%d", mockOpts.Port))
		}()
		fmt.Fprintf(os.Stderr, "%s on :%d (answering %s %.0f%%)\n", mockserver.Banner, mockOpts.Port, emotion, mockOpts.Confidence)

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
			fmt.Fprintln(os.Stderr, "🛑 Shutting down...")
			return app.ShutdownWithTimeout(5 * time.Second)
		}
	},
}

func init() {
	mockServerCmd.Flags().IntVarP(&mockOpts.Port, "port", "p", 5000, "Port to listen on")
	mockServerCmd.Flags().StringVar(&mockOpts.Emotion, "emotion", string(types.Happy), "Emotion returned for every face")
	mockServerCmd.Flags().Float64Var(&mockOpts.Confidence, "confidence", 80, "Confidence returned for every face")
	mockServerCmd.Flags().StringVar(&mockOpts.SaveDir, "save-dir", "captured", "Directory for /capture uploads")
	mockServerCmd.Flags().BoolVar(&mockOpts.Detect, "detect", false, "Run the face locator on uploads and answer face_detected=false when it finds none")
	rootCmd.AddCommand(mockServerCmd)
}
