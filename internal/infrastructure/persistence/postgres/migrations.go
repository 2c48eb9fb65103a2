package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: TUTORING SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS tutoring_sessions (
    session_id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    grade_level TEXT NOT NULL DEFAULT '',
    current_state VARCHAR(32) NOT NULL DEFAULT 'initializing',
    status VARCHAR(16) NOT NULL DEFAULT 'active',
    current_concept TEXT NOT NULL DEFAULT '',
    concepts_completed JSONB NOT NULL DEFAULT '[]'::jsonb,
    curriculum JSONB NOT NULL DEFAULT '[]'::jsonb,
    total_concepts INTEGER NOT NULL DEFAULT 5,
    error_count INTEGER NOT NULL DEFAULT 0,
    last_action TEXT NOT NULL DEFAULT '',
    next_action TEXT NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_status CHECK (status IN ('active', 'completed', 'error')),
    CONSTRAINT valid_error_count CHECK (error_count >= 0),
    CONSTRAINT valid_total_concepts CHECK (total_concepts >= 0)
);

CREATE INDEX IF NOT EXISTS idx_tutoring_sessions_student ON tutoring_sessions(student_id);
CREATE INDEX IF NOT EXISTS idx_tutoring_sessions_status ON tutoring_sessions(status) WHERE status != 'active';
`

const migration001Down = `
DROP TABLE IF EXISTS tutoring_sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SESSION FEEDBACK
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS session_feedback (
    id UUID PRIMARY KEY,
    seq BIGSERIAL,
    session_id TEXT NOT NULL,
    student_id TEXT NOT NULL,
    concept TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL,
    progression_ready BOOLEAN NOT NULL DEFAULT FALSE,
    summary TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100)
);

CREATE INDEX IF NOT EXISTS idx_session_feedback_latest
    ON session_feedback(session_id, student_id, created_at DESC, seq DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS session_feedback;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TEACHING STATES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS teaching_states (
    session_id TEXT PRIMARY KEY,
    current_topic TEXT NOT NULL DEFAULT '',
    current_concept TEXT NOT NULL DEFAULT '',
    phase VARCHAR(16) NOT NULL DEFAULT 'explain',
    completed_phases JSONB NOT NULL DEFAULT '[]'::jsonb,
    concept_progress INTEGER NOT NULL DEFAULT 0,
    resources JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_phase CHECK (phase IN ('explain', 'example', 'practice', 'assess')),
    CONSTRAINT valid_concept_progress CHECK (concept_progress >= 0 AND concept_progress <= 100)
);
`

const migration003Down = `
DROP TABLE IF EXISTS teaching_states;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CONCEPT CYCLES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
ALTER TABLE tutoring_sessions
    ADD COLUMN IF NOT EXISTS concept_cycle INTEGER NOT NULL DEFAULT 0,
    ADD COLUMN IF NOT EXISTS progression JSONB;

ALTER TABLE teaching_states
    ADD COLUMN IF NOT EXISTS cycle INTEGER NOT NULL DEFAULT 0;
`

const migration004Down = `
ALTER TABLE teaching_states DROP COLUMN IF EXISTS cycle;
ALTER TABLE tutoring_sessions DROP COLUMN IF EXISTS progression, DROP COLUMN IF EXISTS concept_cycle;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_tutoring_sessions", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_session_feedback", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_teaching_states", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "add_concept_cycles", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		ran++
	}
	return ran, nil
}

// Rollback reverts the last applied migration. It returns the reverted
// version, or 0 when nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	last := latestVersion(applied)
	if last == 0 {
		return 0, nil
	}

	mig, ok := findMigration(m.migrations, last)
	if !ok || mig.DownSQL == "" {
		return 0, fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	err = m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Status returns every known migration with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return mergeStatus(m.migrations, applied), nil
}

func latestVersion(applied map[int]time.Time) int {
	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	return last
}

func findMigration(migrations []Migration, version int) (Migration, bool) {
	for _, mig := range migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

func mergeStatus(migrations []Migration, applied map[int]time.Time) []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out
}
