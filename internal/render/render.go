// Package render prints presentation snapshots to a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/moodscan/internal/presenter"
	"github.com/andresmejia3/moodscan/internal/types"
)

// BarWidth is the number of cells a 100% bar occupies.
const BarWidth = 20

var emoji = map[types.Emotion]string{
	types.Happy:    "😊",
	types.Sad:      "😢",
	types.Angry:    "😠",
	types.Fear:     "😨",
	types.Surprise: "😲",
	types.Neutral:  "😐",
}

// Emoji returns the icon shown next to an emotion.
func Emoji(e types.Emotion) string {
	if s, ok := emoji[e]; ok {
		return s
	}
	return "❔"
}

// Bar draws p percent as a fixed-width bar.
func Bar(p int) string {
	p = types.RoundPercent(float64(p))
	filled := p * BarWidth / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", BarWidth-filled)
}

// Breakdown prints one row per emotion, marking the dominant one.
func Breakdown(w io.Writer, snap presenter.Snapshot) error {
	if !snap.HasResult {
		_, err := fmt.Fprintln(w, "No result yet.")
		return err
	}
	if !snap.Result.FaceDetected {
		_, err := fmt.Fprintln(w, "🙈 No face detected.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tEMOTION\tSCORE\t")
	fmt.Fprintln(tw, "\t-------\t-----\t")
	for _, e := range types.AllEmotions() {
		marker := " "
		if snap.HasDominant && e == snap.Dominant {
			marker = "▶"
		}
		p := snap.Percentages.Get(e)
		fmt.Fprintf(tw, "%s\t%s %s\t%3d%%\t%s\n", marker, Emoji(e), e, p, Bar(p))
	}
	return tw.Flush()
}

// Feedback prints the supportive card for the dominant emotion, if it is shown.
func Feedback(w io.Writer, snap presenter.Snapshot) error {
	if !snap.ShowFeedback || !snap.HasDominant {
		return nil
	}
	_, err := fmt.Fprintf(w, "\n💬 %s %s (%d%%)\n   %s\n", Emoji(snap.Dominant), snap.Dominant, snap.Result.Confidence, snap.Feedback)
	return err
}

// Line is the compact one-line form used while a loop is running.
func Line(snap presenter.Snapshot) string {
	switch {
	case !snap.HasResult:
		return "…"
	case !snap.HasDominant:
		return "🙈 no face"
	default:
		return fmt.Sprintf("%s %s %d%%", Emoji(snap.Dominant), snap.Dominant, snap.Result.Confidence)
	}
}
