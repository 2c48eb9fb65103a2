package session

import "time"

// DefaultPassScore is the assessment score at or above which a concept counts
// as learned.
const DefaultPassScore = 70

// FeedbackRecord is the result of feedback analysis for one assessment.
type FeedbackRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	StudentID        string    `json:"studentId"`
	Concept          string    `json:"concept,omitempty"`
	Score            int       `json:"score"`
	ProgressionReady bool      `json:"progressionReady"`
	Summary          string    `json:"summary,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ConceptDecision is what the concept selector chose.
type ConceptDecision struct {
	// Concept to teach next. Empty when the curriculum is exhausted.
	Concept string
	// Advance is true when the current concept counts as learned.
	Advance bool
}

// ConceptSelector picks the concept taught after a progression check.
type ConceptSelector interface {
	SelectNextConcept(score int, completed, curriculum []string) ConceptDecision
}

// ThresholdSelector advances when score >= PassScore and repeats otherwise.
// The concept under review is the first curriculum entry not yet completed.
type ThresholdSelector struct {
	PassScore int
}

// NewThresholdSelector returns a selector with the given pass score.
// A non-positive score falls back to DefaultPassScore.
func NewThresholdSelector(passScore int) ThresholdSelector {
	if passScore <= 0 {
		passScore = DefaultPassScore
	}
	return ThresholdSelector{PassScore: passScore}
}

// SelectNextConcept implements ConceptSelector.
func (s ThresholdSelector) SelectNextConcept(score int, completed, curriculum []string) ConceptDecision {
	done := make(map[string]struct{}, len(completed))
	for _, c := range completed {
		done[c] = struct{}{}
	}

	var pending []string
	for _, c := range curriculum {
		if _, ok := done[c]; !ok {
			pending = append(pending, c)
		}
	}

	if score < s.PassScore {
		if len(pending) == 0 {
			return ConceptDecision{}
		}
		return ConceptDecision{Concept: pending[0]}
	}

	if len(pending) <= 1 {
		return ConceptDecision{Advance: true}
	}
	return ConceptDecision{Concept: pending[1], Advance: true}
}

// Covers reports whether the record can decide progression of concept.
// A record or session without a concept matches anything.
func (f *FeedbackRecord) Covers(concept string) bool {
	return f.Concept == "" || concept == "" || f.Concept == concept
}

// Decision values of ProgressionOutcome.
const (
	DecisionAdvance = "advance"
	DecisionReview  = "review"
)

// ProgressionOutcome is the decision taken at progression_check. It stays on
// the session until the session leaves that state.
type ProgressionOutcome struct {
	ProgressionReady    bool   `json:"progressionReady"`
	NextConcept         string `json:"nextConcept"`
	Decision            string `json:"decision"`
	AllConceptsComplete bool   `json:"allConceptsComplete"`
	Score               int    `json:"score"`
}

// ApplyProgression applies d at most once per visit of progression_check and
// opens a new concept cycle. When a decision is already recorded it is
// returned unchanged and applied is false.
func (s *SessionState) ApplyProgression(d ConceptDecision, score int, ready bool) (out ProgressionOutcome, applied bool) {
	if s.Progression != nil {
		return *s.Progression, false
	}

	out = ProgressionOutcome{
		ProgressionReady: ready,
		Decision:         DecisionReview,
		Score:            score,
	}
	if d.Advance {
		s.CompleteConcept(s.CurrentConcept)
		out.Decision = DecisionAdvance
	}
	if d.Concept != "" {
		s.CurrentConcept = d.Concept
	}
	out.NextConcept = d.Concept
	out.AllConceptsComplete = s.AllConceptsComplete()

	s.ConceptCycle++
	s.Progression = &out
	return out, true
}
