package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/record"
)

// LoadTeaching returns the durable teaching state.
func (s *Store) LoadTeaching(ctx context.Context, sessionID string) (*session.TeachingState, error) {
	query := `
		SELECT session_id, current_topic, current_concept, phase,
		       completed_phases, concept_progress, resources, updated_at, cycle
		FROM teaching_states WHERE session_id = ?`

	var (
		row               record.TeachingRow
		phases, resources string
		updatedAt         int64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&row.SessionID, &row.CurrentTopic, &row.CurrentConcept, &row.Phase,
		&phases, &row.ConceptProgress, &resources, &updatedAt, &row.Cycle,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTeachingStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan teaching row: %w", err)
	}

	row.CompletedPhases = []byte(phases)
	row.Resources = []byte(resources)
	row.UpdatedAt = fromMillis(updatedAt)
	return row.ToTeaching()
}

// SaveTeaching upserts the teaching state.
func (s *Store) SaveTeaching(ctx context.Context, t *session.TeachingState) error {
	row, err := record.FromTeaching(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO teaching_states (
			session_id, current_topic, current_concept, phase,
			completed_phases, concept_progress, resources, updated_at, cycle
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			current_topic = excluded.current_topic,
			current_concept = excluded.current_concept,
			phase = excluded.phase,
			completed_phases = excluded.completed_phases,
			concept_progress = excluded.concept_progress,
			resources = excluded.resources,
			updated_at = excluded.updated_at,
			cycle = excluded.cycle`

	_, err = s.db.ExecContext(ctx, query,
		row.SessionID, row.CurrentTopic, row.CurrentConcept, row.Phase,
		string(row.CompletedPhases), row.ConceptProgress, string(row.Resources), toMillis(row.UpdatedAt), row.Cycle,
	)
	if err != nil {
		return fmt.Errorf("save teaching state: %w", err)
	}
	return nil
}
