package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/record"
)

const sessionColumns = `
	session_id, student_id, topic, grade_level, current_state, status,
	current_concept, concepts_completed, curriculum, total_concepts,
	error_count, last_action, next_action, version, updated_at,
	concept_cycle, progression`

const upsertSession = `
	INSERT INTO tutoring_sessions (` + sessionColumns + `, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id) DO UPDATE SET
		topic = excluded.topic,
		grade_level = excluded.grade_level,
		current_state = excluded.current_state,
		status = excluded.status,
		current_concept = excluded.current_concept,
		concepts_completed = excluded.concepts_completed,
		curriculum = excluded.curriculum,
		total_concepts = excluded.total_concepts,
		error_count = excluded.error_count,
		last_action = excluded.last_action,
		next_action = excluded.next_action,
		version = excluded.version,
		concept_cycle = excluded.concept_cycle,
		progression = excluded.progression,
		updated_at = max(tutoring_sessions.updated_at, excluded.updated_at)`

func sessionArgs(row record.SessionRow) []interface{} {
	updated := toMillis(row.UpdatedAt)
	var progression sql.NullString
	if len(row.Progression) > 0 {
		progression = sql.NullString{String: string(row.Progression), Valid: true}
	}
	return []interface{}{
		row.SessionID, row.StudentID, row.Topic, row.GradeLevel, row.CurrentState, row.Status,
		row.CurrentConcept, string(row.ConceptsCompleted), string(row.Curriculum), row.TotalConcepts,
		row.ErrorCount, row.LastAction, row.NextAction, row.Version, updated,
		row.ConceptCycle, progression, updated,
	}
}

// Create inserts a new session record.
func (s *Store) Create(ctx context.Context, st *session.SessionState) error {
	row, err := record.FromSession(st)
	if err != nil {
		return err
	}
	query := `INSERT INTO tutoring_sessions (` + sessionColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, sessionArgs(row)...); err != nil {
		if isUniqueViolation(err) {
			return shared.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Load returns the durable session record.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.SessionState, error) {
	row, err := s.loadRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return row.ToSession()
}

func (s *Store) loadRow(ctx context.Context, sessionID string) (record.SessionRow, error) {
	query := `SELECT ` + sessionColumns + `, completed_at FROM tutoring_sessions WHERE session_id = ?`

	var (
		row               record.SessionRow
		completed, curric string
		updatedAt         int64
		completedAt       sql.NullInt64
		progression       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&row.SessionID, &row.StudentID, &row.Topic, &row.GradeLevel, &row.CurrentState, &row.Status,
		&row.CurrentConcept, &completed, &curric, &row.TotalConcepts,
		&row.ErrorCount, &row.LastAction, &row.NextAction, &row.Version, &updatedAt,
		&row.ConceptCycle, &progression, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return record.SessionRow{}, shared.ErrSessionNotFound
	}
	if err != nil {
		return record.SessionRow{}, fmt.Errorf("scan session row: %w", err)
	}

	row.ConceptsCompleted = []byte(completed)
	row.Curriculum = []byte(curric)
	row.UpdatedAt = fromMillis(updatedAt)
	if progression.Valid {
		row.Progression = []byte(progression.String)
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		row.CompletedAt = &t
	}
	return row, nil
}

// CompletedAt returns the completion timestamp, or nil while the session
// is still running.
func (s *Store) CompletedAt(ctx context.Context, sessionID string) (*time.Time, error) {
	row, err := s.loadRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return row.CompletedAt, nil
}

// Status returns the durable lifecycle flag.
func (s *Store) Status(ctx context.Context, sessionID string) (session.Status, error) {
	row, err := s.loadRow(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.Status(row.Status), nil
}

// Save upserts the record without a version check.
func (s *Store) Save(ctx context.Context, st *session.SessionState) error {
	row, err := record.FromSession(st)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSession, sessionArgs(row)...); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveVersioned upserts only when the stored version is st.Version-1.
func (s *Store) SaveVersioned(ctx context.Context, st *session.SessionState) error {
	row, err := record.FromSession(st)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, upsertSession+`
		WHERE tutoring_sessions.version = excluded.version - 1`, sessionArgs(row)...)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n == 0 {
		return shared.ErrStaleSessionState
	}
	return nil
}

// MarkFailed sets status to "error".
func (s *Store) MarkFailed(ctx context.Context, sessionID string, at time.Time) error {
	return s.mark(ctx, `UPDATE tutoring_sessions SET status = 'error', updated_at = max(updated_at, ?) WHERE session_id = ?`, sessionID, at)
}

// MarkCompleted records the terminal completion, keeping the first timestamp.
func (s *Store) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	return s.mark(ctx, `
		UPDATE tutoring_sessions SET
			current_state = 'completed',
			status = 'completed',
			completed_at = COALESCE(completed_at, ?1),
			updated_at = max(updated_at, ?1)
		WHERE session_id = ?2`, sessionID, at)
}

// MarkActive clears the error status.
func (s *Store) MarkActive(ctx context.Context, sessionID string, at time.Time) error {
	return s.mark(ctx, `UPDATE tutoring_sessions SET status = 'active', updated_at = max(updated_at, ?) WHERE session_id = ?`, sessionID, at)
}

func (s *Store) mark(ctx context.Context, query, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, query, toMillis(at), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if n == 0 {
		return shared.ErrSessionNotFound
	}
	return nil
}
