package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/record"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `
	session_id, student_id, topic, grade_level, current_state, status,
	current_concept, concepts_completed, curriculum, total_concepts,
	error_count, last_action, next_action, version, updated_at, completed_at,
	concept_cycle, progression`

const upsertSessionSQL = `
	INSERT INTO tutoring_sessions (` + sessionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL, $16, $17)
	ON CONFLICT (session_id) DO UPDATE SET
		topic = EXCLUDED.topic,
		grade_level = EXCLUDED.grade_level,
		current_state = EXCLUDED.current_state,
		status = EXCLUDED.status,
		current_concept = EXCLUDED.current_concept,
		concepts_completed = EXCLUDED.concepts_completed,
		curriculum = EXCLUDED.curriculum,
		total_concepts = EXCLUDED.total_concepts,
		error_count = EXCLUDED.error_count,
		last_action = EXCLUDED.last_action,
		next_action = EXCLUDED.next_action,
		version = EXCLUDED.version,
		concept_cycle = EXCLUDED.concept_cycle,
		progression = EXCLUDED.progression,
		updated_at = GREATEST(tutoring_sessions.updated_at, EXCLUDED.updated_at)`

func rowArgs(row record.SessionRow) []interface{} {
	return []interface{}{
		row.SessionID, row.StudentID, row.Topic, row.GradeLevel, row.CurrentState, row.Status,
		row.CurrentConcept, row.ConceptsCompleted, row.Curriculum, row.TotalConcepts,
		row.ErrorCount, row.LastAction, row.NextAction, row.Version, row.UpdatedAt,
		row.ConceptCycle, row.Progression,
	}
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, s *session.SessionState) error {
	row, err := record.FromSession(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tutoring_sessions (` + sessionColumns + `, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL, $16, $17, $15)`

	if _, err := r.conn.Exec(ctx, query, rowArgs(row)...); err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Load returns the durable session record.
func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*session.SessionState, error) {
	query := `SELECT ` + sessionColumns + ` FROM tutoring_sessions WHERE session_id = $1`

	var row record.SessionRow
	err := r.conn.QueryRow(ctx, query, sessionID).Scan(
		&row.SessionID, &row.StudentID, &row.Topic, &row.GradeLevel, &row.CurrentState, &row.Status,
		&row.CurrentConcept, &row.ConceptsCompleted, &row.Curriculum, &row.TotalConcepts,
		&row.ErrorCount, &row.LastAction, &row.NextAction, &row.Version, &row.UpdatedAt, &row.CompletedAt,
		&row.ConceptCycle, &row.Progression,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return row.ToSession()
}

// Save upserts the record without a version check. completed_at is never
// cleared by Save.
func (r *SessionRepository) Save(ctx context.Context, s *session.SessionState) error {
	row, err := record.FromSession(s)
	if err != nil {
		return err
	}
	if _, err := r.conn.Exec(ctx, upsertSessionSQL, rowArgs(row)...); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveVersioned upserts only when the stored version is s.Version-1.
// A missing row is inserted as is.
func (r *SessionRepository) SaveVersioned(ctx context.Context, s *session.SessionState) error {
	row, err := record.FromSession(s)
	if err != nil {
		return err
	}

	query := upsertSessionSQL + `
	WHERE tutoring_sessions.version = EXCLUDED.version - 1`

	tag, err := r.conn.Exec(ctx, query, rowArgs(row)...)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleSessionState
	}
	return nil
}

// MarkFailed sets status to "error".
func (r *SessionRepository) MarkFailed(ctx context.Context, sessionID string, at time.Time) error {
	return r.mark(ctx, `
		UPDATE tutoring_sessions SET status = 'error', updated_at = GREATEST(updated_at, $2)
		WHERE session_id = $1`, sessionID, at)
}

// MarkCompleted records the terminal completion. The first completion
// timestamp is kept.
func (r *SessionRepository) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	return r.mark(ctx, `
		UPDATE tutoring_sessions SET
			current_state = 'completed',
			status = 'completed',
			completed_at = COALESCE(completed_at, $2),
			updated_at = GREATEST(updated_at, $2)
		WHERE session_id = $1`, sessionID, at)
}

// MarkActive clears the error status after an external reset.
func (r *SessionRepository) MarkActive(ctx context.Context, sessionID string, at time.Time) error {
	return r.mark(ctx, `
		UPDATE tutoring_sessions SET status = 'active', updated_at = GREATEST(updated_at, $2)
		WHERE session_id = $1`, sessionID, at)
}

func (r *SessionRepository) mark(ctx context.Context, query, sessionID string, at time.Time) error {
	tag, err := r.conn.Exec(ctx, query, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}
	return nil
}
