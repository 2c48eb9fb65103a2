package collaborator

import (
	"fmt"
	"net/http"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRequest asks the curriculum service to plan a topic.
type CurriculumRequest struct {
	StudentID  string `json:"studentId"`
	SessionID  string `json:"sessionId"`
	Topic      string `json:"topic"`
	GradeLevel string `json:"gradeLevel,omitempty"`
}

// QuizRequest asks the quiz service for an assessment on the given concepts.
type QuizRequest struct {
	StudentID     string   `json:"studentId"`
	SessionID     string   `json:"sessionId"`
	Topic         string   `json:"topic"`
	Concepts      []string `json:"concepts"`
	QuestionCount int      `json:"questionCount"`
}

// FeedbackRequest asks the feedback service to analyse the latest assessment.
type FeedbackRequest struct {
	StudentID string `json:"studentId"`
	SessionID string `json:"sessionId"`
	Topic     string `json:"topic"`
}

// ResourcesRequest looks up reference material for one concept.
type ResourcesRequest struct {
	SessionID string `json:"sessionId"`
	Topic     string `json:"topic"`
	Concept   string `json:"concept"`
	Limit     int    `json:"limit,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// conceptDTO accepts either a bare string or an object naming the concept.
type conceptDTO struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type curriculumDTO struct {
	Concepts []any `json:"concepts"`
}

// resourceDTO is one entry of a resource lookup response.
type resourceDTO struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Link  string `json:"link"`
	Type  string `json:"type"`
}

type resourcesDTO struct {
	Resources []resourceDTO `json:"resources"`
}

// APIError represents a non-2xx response from a collaborator.
type APIError struct {
	Endpoint   string `json:"-"`
	StatusCode int    `json:"-"`

	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s collaborator returned %d", e.Endpoint, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the status code onto the domain error kinds.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return shared.ErrCollaboratorRateLimited
	case e.StatusCode >= 500:
		return shared.ErrCollaboratorUnavailable
	default:
		return shared.ErrCollaboratorFailed
	}
}

// countsAgainstBreaker reports whether the response says the collaborator is
// unhealthy, as opposed to rejecting this particular request.
func (e *APIError) countsAgainstBreaker() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
