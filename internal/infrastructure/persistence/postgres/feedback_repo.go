package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// FeedbackRepository implements session.FeedbackRepository for PostgreSQL.
type FeedbackRepository struct {
	conn *Connection
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(conn *Connection) *FeedbackRepository {
	return &FeedbackRepository{conn: conn}
}

// Record inserts a feedback row. An empty ID is generated.
func (r *FeedbackRepository) Record(ctx context.Context, rec *session.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO session_feedback (
			id, session_id, student_id, concept, score, progression_ready, summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.conn.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.StudentID, rec.Concept,
		rec.Score, rec.ProgressionReady, rec.Summary, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// Latest returns the newest feedback row for the student in the session.
func (r *FeedbackRepository) Latest(ctx context.Context, sessionID, studentID string) (*session.FeedbackRecord, error) {
	query := `
		SELECT id::text, session_id, student_id, concept, score, progression_ready, summary, created_at
		FROM session_feedback
		WHERE session_id = $1 AND student_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`

	var rec session.FeedbackRecord
	err := r.conn.QueryRow(ctx, query, sessionID, studentID).Scan(
		&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Concept,
		&rec.Score, &rec.ProgressionReady, &rec.Summary, &rec.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrFeedbackNotFound
		}
		return nil, fmt.Errorf("failed to load latest feedback: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
