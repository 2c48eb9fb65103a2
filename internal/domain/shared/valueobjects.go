package shared

import "strings"

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// SessionID identifies a tutoring session. Any non-blank string is accepted;
// ids are minted by the caller.
type SessionID string

// String returns the string representation.
func (s SessionID) String() string {
	return string(s)
}

// NewSessionID trims and validates a session id.
func NewSessionID(id string) (SessionID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingSessionID
	}
	return SessionID(id), nil
}

// StudentID identifies the learner owning a session.
type StudentID string

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID trims and validates a student id.
func NewStudentID(id string) (StudentID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingStudentID
	}
	return StudentID(id), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Percentage returns done/total as an integer percentage, rounded half up.
// A zero or negative total yields 0.
func Percentage(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	return (done*200 + total) / (2 * total)
}

// ClampProgress bounds a progress value to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
