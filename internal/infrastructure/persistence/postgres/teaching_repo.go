package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/record"
)

// TeachingRepository implements session.TeachingRepository for PostgreSQL.
type TeachingRepository struct {
	conn *Connection
}

// NewTeachingRepository creates a new TeachingRepository.
func NewTeachingRepository(conn *Connection) *TeachingRepository {
	return &TeachingRepository{conn: conn}
}

func (r *TeachingRepository) LoadTeaching(ctx context.Context, sessionID string) (*session.TeachingState, error) {
	query := `
		SELECT session_id, current_topic, current_concept, phase,
		       completed_phases, concept_progress, resources, updated_at, cycle
		FROM teaching_states
		WHERE session_id = $1`

	var row record.TeachingRow
	err := r.conn.QueryRow(ctx, query, sessionID).Scan(
		&row.SessionID, &row.CurrentTopic, &row.CurrentConcept, &row.Phase,
		&row.CompletedPhases, &row.ConceptProgress, &row.Resources, &row.UpdatedAt, &row.Cycle,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTeachingStateNotFound
		}
		return nil, fmt.Errorf("failed to load teaching state: %w", err)
	}
	return row.ToTeaching()
}

func (r *TeachingRepository) SaveTeaching(ctx context.Context, t *session.TeachingState) error {
	row, err := record.FromTeaching(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO teaching_states (
			session_id, current_topic, current_concept, phase,
			completed_phases, concept_progress, resources, updated_at, cycle
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			current_topic = EXCLUDED.current_topic,
			current_concept = EXCLUDED.current_concept,
			phase = EXCLUDED.phase,
			completed_phases = EXCLUDED.completed_phases,
			concept_progress = EXCLUDED.concept_progress,
			resources = EXCLUDED.resources,
			updated_at = EXCLUDED.updated_at,
			cycle = EXCLUDED.cycle`

	_, err = r.conn.Exec(ctx, query,
		row.SessionID, row.CurrentTopic, row.CurrentConcept, row.Phase,
		row.CompletedPhases, row.ConceptProgress, row.Resources, row.UpdatedAt, row.Cycle,
	)
	if err != nil {
		return fmt.Errorf("failed to save teaching state: %w", err)
	}
	return nil
}
