package session

import "fmt"

// State is a top-level orchestration state.
type State string

const (
	StateInitializing         State = "initializing"
	StateCurriculumGeneration State = "curriculum_generation"
	StateTeachingExplain      State = "teaching_explain"
	StateTeachingExample      State = "teaching_example"
	StateTeachingPractice     State = "teaching_practice"
	StateAssessment           State = "assessment"
	StateFeedbackAnalysis     State = "feedback_analysis"
	StateProgressionCheck     State = "progression_check"
	StateSessionComplete      State = "session_complete"
	StateError                State = "error"
)

// AllStates lists every valid state in cycle order.
func AllStates() []State {
	return []State{
		StateInitializing,
		StateCurriculumGeneration,
		StateTeachingExplain,
		StateTeachingExample,
		StateTeachingPractice,
		StateAssessment,
		StateFeedbackAnalysis,
		StateProgressionCheck,
		StateSessionComplete,
		StateError,
	}
}

// String returns the wire name of the state.
func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is one of the enumerated states.
func (s State) IsValid() bool {
	switch s {
	case StateInitializing, StateCurriculumGeneration,
		StateTeachingExplain, StateTeachingExample, StateTeachingPractice,
		StateAssessment, StateFeedbackAnalysis, StateProgressionCheck,
		StateSessionComplete, StateError:
		return true
	}
	return false
}

// IsTeaching reports whether s is one of the interactive teaching states.
func (s State) IsTeaching() bool {
	return s == StateTeachingExplain || s == StateTeachingExample || s == StateTeachingPractice
}

// IsTerminal reports whether the session has finished.
func (s State) IsTerminal() bool {
	return s == StateSessionComplete
}

// TeachingPhase maps a teaching state to its phase name.
func (s State) TeachingPhase() (Phase, bool) {
	switch s {
	case StateTeachingExplain:
		return PhaseExplain, true
	case StateTeachingExample:
		return PhaseExample, true
	case StateTeachingPractice:
		return PhasePractice, true
	}
	return "", false
}

// ParseState converts a stored string into a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown session state %q", s)
	}
	return st, nil
}

// DurableName is the value written to the durable current_state column.
// A finished session is recorded as "completed".
func (s State) DurableName() string {
	if s == StateSessionComplete {
		return "completed"
	}
	return string(s)
}

// StateFromDurable is the inverse of DurableName.
func StateFromDurable(name string) (State, error) {
	if name == "completed" {
		return StateSessionComplete, nil
	}
	return ParseState(name)
}
