package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// Record inserts a feedback row. An empty ID is generated.
func (s *Store) Record(ctx context.Context, rec *session.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO session_feedback (
			id, session_id, student_id, concept, score, progression_ready, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.StudentID, rec.Concept,
		rec.Score, rec.ProgressionReady, rec.Summary, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// Latest returns the newest feedback row for the student in the session.
func (s *Store) Latest(ctx context.Context, sessionID, studentID string) (*session.FeedbackRecord, error) {
	query := `
		SELECT id, session_id, student_id, concept, score, progression_ready, summary, created_at
		FROM session_feedback
		WHERE session_id = ? AND student_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`

	var (
		rec       session.FeedbackRecord
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID, studentID).Scan(
		&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Concept,
		&rec.Score, &rec.ProgressionReady, &rec.Summary, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrFeedbackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feedback row: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return &rec, nil
}
