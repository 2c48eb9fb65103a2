package session

import (
	"strings"
	"time"
)

// Phase is a teaching micro-state inside one concept.
type Phase string

const (
	PhaseExplain  Phase = "explain"
	PhaseExample  Phase = "example"
	PhasePractice Phase = "practice"
	PhaseAssess   Phase = "assess"
)

// IsValid reports whether p is one of the four phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseExplain, PhaseExample, PhasePractice, PhaseAssess:
		return true
	}
	return false
}

// UnderstandingLevel is the coarse signal derived from a student message.
type UnderstandingLevel string

const (
	UnderstandingLow    UnderstandingLevel = "low"
	UnderstandingMedium UnderstandingLevel = "medium"
	UnderstandingHigh   UnderstandingLevel = "high"
)

// PhaseProgressStep is added to conceptProgress on every actual phase change.
const PhaseProgressStep = 25

// NextPhase computes the phase that follows current.
// Confusion regresses; otherwise high understanding moves forward.
func NextPhase(current Phase, level UnderstandingLevel) Phase {
	if level == UnderstandingLow {
		if current == PhasePractice {
			return PhaseExample
		}
		return PhaseExplain
	}

	high := level == UnderstandingHigh
	switch current {
	case PhaseExplain:
		if high {
			return PhasePractice
		}
		return PhaseExample
	case PhaseExample:
		if high {
			return PhasePractice
		}
		return PhaseExample
	case PhasePractice:
		if high {
			return PhaseAssess
		}
		return PhasePractice
	case PhaseAssess:
		return PhaseAssess
	default:
		return PhaseExplain
	}
}

// Resource is a reference material attached to a concept.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// TeachingState tracks the phase sub-machine for the concept being taught.
type TeachingState struct {
	SessionID       string     `json:"sessionId"`
	CurrentTopic    string     `json:"currentTopic"`
	CurrentConcept  string     `json:"currentConcept"`
	Phase           Phase      `json:"phase"`
	CompletedPhases []Phase    `json:"completedPhases"`
	ConceptProgress int        `json:"conceptProgress"`
	Resources       []Resource `json:"resources"`
	LastUpdated     time.Time  `json:"lastUpdated"`

	// Cycle is the session's ConceptCycle this state was started in.
	Cycle int `json:"cycle"`
}

// NewTeachingState starts a concept at the explain phase with no progress.
func NewTeachingState(sessionID, topic, concept string, now time.Time) *TeachingState {
	return &TeachingState{
		SessionID:       sessionID,
		CurrentTopic:    topic,
		CurrentConcept:  concept,
		Phase:           PhaseExplain,
		CompletedPhases: []Phase{},
		Resources:       []Resource{},
		LastUpdated:     now,
	}
}

// StartConcept resets the sub-machine when concept or cycle differs from the
// current one, so a reviewed concept is taught again from explain. It reports
// whether a reset happened.
func (t *TeachingState) StartConcept(topic, concept string, cycle int, now time.Time) bool {
	if t.CurrentConcept == concept && t.Cycle == cycle && t.Phase.IsValid() {
		return false
	}
	*t = *NewTeachingState(t.SessionID, topic, concept, now)
	t.Cycle = cycle
	return true
}

// HasCompletedPhase reports whether p has been visited and left.
func (t *TeachingState) HasCompletedPhase(p Phase) bool {
	for _, c := range t.CompletedPhases {
		if c == p {
			return true
		}
	}
	return false
}

// NeedsResources reports whether resources should be fetched for this concept.
func (t *TeachingState) NeedsResources() bool {
	return len(t.Resources) == 0
}

// TurnOutcome describes one application of the phase sub-machine.
type TurnOutcome struct {
	From     Phase
	To       Phase
	Changed  bool
	Level    UnderstandingLevel
	Progress int
}

// ApplyTurn runs one student turn through the sub-machine.
func (t *TeachingState) ApplyTurn(level UnderstandingLevel, now time.Time) TurnOutcome {
	from := t.Phase
	if !from.IsValid() {
		from = PhaseExplain
		t.Phase = from
	}
	to := NextPhase(from, level)

	out := TurnOutcome{From: from, To: to, Level: level}
	if to != from {
		if !t.HasCompletedPhase(from) {
			t.CompletedPhases = append(t.CompletedPhases, from)
		}
		t.Phase = to
		t.ConceptProgress += PhaseProgressStep
		if t.ConceptProgress > 100 {
			t.ConceptProgress = 100
		}
		out.Changed = true
	}
	out.Progress = t.ConceptProgress
	if now.After(t.LastUpdated) {
		t.LastUpdated = now
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// Understanding classification
// ═══════════════════════════════════════════════════════════════════════════

// UnderstandingClassifier derives an understanding level from a student message.
type UnderstandingClassifier interface {
	ClassifyUnderstanding(text string) UnderstandingLevel
}

// ClassifierFunc adapts a plain function to UnderstandingClassifier.
type ClassifierFunc func(text string) UnderstandingLevel

// ClassifyUnderstanding implements UnderstandingClassifier.
func (f ClassifierFunc) ClassifyUnderstanding(text string) UnderstandingLevel { return f(text) }

// Default phrase lists for KeywordClassifier.
var (
	DefaultUnderstoodPhrases = []string{
		"i understand", "i get it", "got it", "makes sense", "that's clear",
		"clear now", "understood", "i see now", "i know this",
	}
	DefaultConfusedPhrases = []string{
		"don't understand", "dont understand", "do not understand",
		"don't get", "dont get", "confused", "confusing", "not sure",
		"i'm lost", "im lost", "no idea", "what do you mean", "unclear",
	}
)

// KeywordClassifier matches lowercase substrings. Confusion phrases win over
// understanding phrases.
type KeywordClassifier struct {
	understood []string
	confused   []string
}

// NewKeywordClassifier builds a classifier from phrase lists.
func NewKeywordClassifier(understood, confused []string) *KeywordClassifier {
	return &KeywordClassifier{
		understood: normalizePhrases(understood),
		confused:   normalizePhrases(confused),
	}
}

// DefaultKeywordClassifier uses the built-in phrase lists.
func DefaultKeywordClassifier() *KeywordClassifier {
	return NewKeywordClassifier(DefaultUnderstoodPhrases, DefaultConfusedPhrases)
}

// ClassifyUnderstanding implements UnderstandingClassifier.
func (c *KeywordClassifier) ClassifyUnderstanding(text string) UnderstandingLevel {
	msg := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range c.confused {
		if strings.Contains(msg, p) {
			return UnderstandingLow
		}
	}
	for _, p := range c.understood {
		if strings.Contains(msg, p) {
			return UnderstandingHigh
		}
	}
	return UnderstandingMedium
}

func normalizePhrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
