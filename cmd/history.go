package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/render"
	"github.com/andresmejia3/moodscan/internal/store"
	"github.com/andresmejia3/moodscan/internal/utils"
)

var historySession string

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recorded capture sessions, or break one session down by emotion",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if historySession != "" {
			id, err := uuid.Parse(historySession)
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", historySession, err)
			}
			return runSessionSummary(cmd.Context(), DB, os.Stdout, id)
		}
		return runHistory(cmd.Context(), DB, os.Stdout)
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historySession, "session", "s", "", "Show the emotion breakdown of one session")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, db *store.Store, out io.Writer) error {
	sessions, err := db.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return errReported
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTARTED\tDURATION\tRESULTS\tTOP EMOTION")
	fmt.Fprintln(w, "--\t------\t-------\t--------\t-------\t-----------")

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		top := "-"
		if s.TopEmotion != "" {
			top = render.Emoji(s.TopEmotion) + " " + string(s.TopEmotion)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.ID, s.SourceKind, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Total, top)
	}
	return w.Flush()
}

func runSessionSummary(ctx context.Context, db *store.Store, out io.Writer, id uuid.UUID) error {
	summary, err := db.EmotionSummary(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		fmt.Fprintf(out, "No session with id %s.\n", id)
		return errReported
	}
	if err != nil {
		utils.ShowError("Failed to summarize session", err, nil)
		return errReported
	}

	fmt.Fprintf(out, "Session %s: %d results, %d without a face\n\n", id, summary.Total, summary.NoFace)
	if len(summary.Emotions) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EMOTION\tCOUNT\tAVG CONFIDENCE")
	fmt.Fprintln(w, "-------\t-----\t--------------")
	for _, ec := range summary.Emotions {
		fmt.Fprintf(w, "%s %s\t%d\t%.0f%%\n", render.Emoji(ec.Emotion), ec.Emotion, ec.Count, ec.AvgConfidence)
	}
	return w.Flush()
}
