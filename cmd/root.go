package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/config"
	"github.com/andresmejia3/moodscan/internal/store"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// DB is the optional history store; nil when no database is configured
	DB *store.Store

	endpoint    string
	cascadePath string
	dbURL       string
	envName     string
)

// Version is the application version.
const Version = "0.1.0"

// needsDB marks commands that cannot run without the history store.
const needsDB = "needs-db"

// errReported is returned once an error has already been shown to the user.
var errReported = errors.New("error already reported")

var rootCmd = &cobra.Command{
	Use:           "moodscan",
	Short:         "Facial emotion detection from images, cameras and videos",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Flags win over the environment
		if cmd.Flags().Changed("endpoint") {
			cfg.Endpoint = endpoint
		}
		if cmd.Flags().Changed("cascade") {
			cfg.CascadePath = cascadePath
		}
		if cmd.Flags().Changed("db") {
			cfg.DatabaseURL = dbURL
		}
		if cmd.Flags().Changed("env") {
			cfg.Env = envName
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		Cfg = cfg
		slog.SetDefault(config.NewLogger(cfg.Env))

		_, required := cmd.Annotations[needsDB]
		if cfg.DatabaseURL == "" {
			if required {
				return errors.New("no database configured: set DATABASE_URL or pass --db")
			}
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			if required {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			slog.Warn("history disabled, database unreachable", slog.Any("error", err))
			DB = nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Prediction backend base URL (default: $MOODSCAN_ENDPOINT or http://127.0.0.1:5000)")
	rootCmd.PersistentFlags().StringVar(&cascadePath, "cascade", "", "Path to a pigo face cascade (default: $MOODSCAN_CASCADE_PATH or the bundled facefinder)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for history (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "Log profile: development, production (default: $MOODSCAN_ENV, warnings only when unset)")
}
