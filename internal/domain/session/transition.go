package session

// Progress thresholds that split one concept's teaching arc into three parts.
const (
	ExampleThreshold  = 33
	PracticeThreshold = 66
	AssessThreshold   = 100
)

// TransitionContext carries the runtime signals the transition function reads.
type TransitionContext struct {
	ConceptProgress     int
	AssessmentScore     *int
	FeedbackReady       *bool
	AllConceptsComplete bool
}

// Transition returns the state that follows current under ctx.
// It is pure: no I/O, no clock, no hidden state.
func Transition(current State, ctx TransitionContext) State {
	switch current {
	case StateInitializing:
		return StateCurriculumGeneration
	case StateCurriculumGeneration:
		return StateTeachingExplain
	case StateTeachingExplain:
		if ctx.ConceptProgress >= ExampleThreshold {
			return StateTeachingExample
		}
		return StateTeachingExplain
	case StateTeachingExample:
		if ctx.ConceptProgress >= PracticeThreshold {
			return StateTeachingPractice
		}
		return StateTeachingExample
	case StateTeachingPractice:
		if ctx.ConceptProgress >= AssessThreshold {
			return StateAssessment
		}
		return StateTeachingPractice
	case StateAssessment:
		return StateFeedbackAnalysis
	case StateFeedbackAnalysis:
		return StateProgressionCheck
	case StateProgressionCheck:
		// Which concept comes next is decided by the progression_check action,
		// not here.
		if ctx.AllConceptsComplete {
			return StateSessionComplete
		}
		return StateTeachingExplain
	case StateSessionComplete:
		return StateSessionComplete
	case StateError:
		return StateTeachingExplain
	default:
		return StateError
	}
}
