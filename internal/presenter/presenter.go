// Package presenter keeps the latest classification and what the UI derives from it.
package presenter

import (
	"sync"

	"github.com/andresmejia3/moodscan/internal/types"
)

var feedback = map[types.Emotion]string{
	types.Happy:    "Great to see you happy! What made your day good?",
	types.Sad:      "I'm here with you. What happened?",
	types.Angry:    "Take a breath. What triggered this?",
	types.Fear:     "You are safe. What are you worried about?",
	types.Surprise: "That looks unexpected! Tell me more.",
	types.Neutral:  "How are you feeling right now?",
}

// FeedbackFor returns the supportive prompt shown for an emotion.
func FeedbackFor(e types.Emotion) string {
	if msg, ok := feedback[e]; ok {
		return msg
	}
	return "I'm here to help you."
}

// Snapshot is a copy of the state at one point in time.
type Snapshot struct {
	Result       types.ClassificationResult
	HasResult    bool
	Percentages  types.EmotionPercentageMap
	Dominant     types.Emotion
	HasDominant  bool
	ShowFeedback bool
	Feedback     string
	// Version increases on every change.
	Version uint64
}

// Derive computes the percentage map and dominant emotion of a result.
// Only the dominant label carries a value; every other entry is zero.
func Derive(result types.ClassificationResult) (types.EmotionPercentageMap, types.Emotion, bool) {
	var m types.EmotionPercentageMap
	if !result.FaceDetected {
		return m, "", false
	}
	m.Set(result.Emotion, result.Confidence)
	return m, result.Emotion, true
}

// State is the single presentation object owned by a capture controller.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns an empty state.
func New() *State {
	return &State{}
}

// Update replaces the stored result wholesale.
func (s *State) Update(result types.ClassificationResult) Snapshot {
	if !result.FaceDetected {
		result = types.NoFace()
	}
	m, dominant, ok := Derive(result)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		Result:       result,
		HasResult:    true,
		Percentages:  m,
		Dominant:     dominant,
		HasDominant:  ok,
		ShowFeedback: ok,
		Version:      s.snap.Version + 1,
	}
	if ok {
		s.snap.Feedback = FeedbackFor(dominant)
	}
	return s.snap
}

// Clear forgets the stored result.
func (s *State) Clear() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{Version: s.snap.Version + 1}
	return s.snap
}

// DismissFeedback hides the feedback card until the next detected result.
func (s *State) DismissFeedback() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.ShowFeedback {
		s.snap.ShowFeedback = false
		s.snap.Version++
	}
	return s.snap
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
