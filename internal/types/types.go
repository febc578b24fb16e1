package types

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// SourceKind identifies where a frame came from.
type SourceKind string

const (
	SourceImage  SourceKind = "image"
	SourceCamera SourceKind = "camera"
	SourceVideo  SourceKind = "video"
)

// Frame is a single decoded raster handed down the pipeline.
type Frame struct {
	Image  image.Image
	Index  int
	Source SourceKind
}

// FaceBox is a face region in frame-pixel coordinates.
type FaceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b FaceBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Thumbnail is the encoded crop sent to the classifier.
type Thumbnail struct {
	JPEG []byte
	Box  FaceBox
}

// Emotion is one of the six labels the classifier can return.
type Emotion string

const (
	Happy    Emotion = "Happy"
	Sad      Emotion = "Sad"
	Angry    Emotion = "Angry"
	Fear     Emotion = "Fear"
	Surprise Emotion = "Surprise"
	Neutral  Emotion = "Neutral"
)

var allEmotions = [...]Emotion{Happy, Sad, Angry, Fear, Surprise, Neutral}

// AllEmotions returns the labels in display order.
func AllEmotions() []Emotion {
	out := make([]Emotion, len(allEmotions))
	copy(out, allEmotions[:])
	return out
}

// ParseEmotion matches a label case-insensitively.
func ParseEmotion(s string) (Emotion, error) {
	s = strings.TrimSpace(s)
	for _, e := range allEmotions {
		if strings.EqualFold(string(e), s) {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown emotion %q", s)
}

func (e Emotion) index() int {
	for i, v := range allEmotions {
		if v == e {
			return i
		}
	}
	return -1
}

// ClassificationResult is the parsed answer of the prediction endpoint.
// When FaceDetected is false, Emotion is empty and Confidence is zero.
type ClassificationResult struct {
	FaceDetected bool    `json:"face_detected"`
	Emotion      Emotion `json:"emotion,omitempty"`
	Confidence   int     `json:"confidence"`
}

// NoFace is the negative result.
func NoFace() ClassificationResult {
	return ClassificationResult{}
}

// Detected builds a positive result, rounding and clamping the raw score.
func Detected(e Emotion, confidence float64) ClassificationResult {
	return ClassificationResult{FaceDetected: true, Emotion: e, Confidence: RoundPercent(confidence)}
}

// RoundPercent rounds half away from zero and clamps to [0, 100].
func RoundPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// EmotionPercentageMap holds a percentage per label.
type EmotionPercentageMap [len(allEmotions)]int

// Get returns the percentage stored for e.
func (m EmotionPercentageMap) Get(e Emotion) int {
	if i := e.index(); i >= 0 {
		return m[i]
	}
	return 0
}

// Set stores p for e. Unknown labels are ignored.
func (m *EmotionPercentageMap) Set(e Emotion, p int) {
	if i := e.index(); i >= 0 {
		m[i] = p
	}
}

// NonZero returns the labels holding a non-zero percentage.
func (m EmotionPercentageMap) NonZero() []Emotion {
	var out []Emotion
	for i, p := range m {
		if p != 0 {
			out = append(out, allEmotions[i])
		}
	}
	return out
}

// AsMap converts to a plain map keyed by label.
func (m EmotionPercentageMap) AsMap() map[Emotion]int {
	out := make(map[Emotion]int, len(m))
	for i, p := range m {
		out[allEmotions[i]] = p
	}
	return out
}
