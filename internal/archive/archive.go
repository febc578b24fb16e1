// Package archive names and writes labelled face thumbnails to disk.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/moodscan/internal/types"
)

// Filename builds <Emotion>_<confidence>%_<YYYYmmdd_HHMMSS>_<hex>.jpg.
// Characters other than letters, digits, '-' and '_' are replaced with '_'.
func Filename(label string, confidence int, now time.Time) string {
	if strings.TrimSpace(label) == "" {
		label = "Unknown"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%d%%_%s_%s.jpg", sanitize(label), confidence, now.Format("20060102_150405"), id)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
}

// Save writes a thumbnail labelled with result into dir and returns the file path.
// Undetected results are labelled NoFace.
func Save(dir string, thumb types.Thumbnail, result types.ClassificationResult) (string, error) {
	if len(thumb.JPEG) == 0 {
		return "", fmt.Errorf("empty thumbnail")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create capture dir: %w", err)
	}

	label := string(result.Emotion)
	if !result.FaceDetected {
		label = "NoFace"
	}
	path := filepath.Join(dir, Filename(label, result.Confidence, time.Now()))
	if err := os.WriteFile(path, thumb.JPEG, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
