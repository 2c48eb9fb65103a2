package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrations returns the schema steps in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_tutoring_sessions",
			UpSQL: `
			CREATE TABLE IF NOT EXISTS tutoring_sessions (
				session_id TEXT PRIMARY KEY,
				student_id TEXT NOT NULL,
				topic TEXT NOT NULL DEFAULT '',
				grade_level TEXT NOT NULL DEFAULT '',
				current_state TEXT NOT NULL DEFAULT 'initializing',
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'error')),
				current_concept TEXT NOT NULL DEFAULT '',
				concepts_completed TEXT NOT NULL DEFAULT '[]',
				curriculum TEXT NOT NULL DEFAULT '[]',
				total_concepts INTEGER NOT NULL DEFAULT 5,
				error_count INTEGER NOT NULL DEFAULT 0,
				last_action TEXT NOT NULL DEFAULT '',
				next_action TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				completed_at INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_tutoring_sessions_student ON tutoring_sessions(student_id);`,
			DownSQL: `DROP TABLE IF EXISTS tutoring_sessions;`,
		},
		{
			Version: 2,
			Name:    "create_session_feedback",
			UpSQL: `
			CREATE TABLE IF NOT EXISTS session_feedback (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				session_id TEXT NOT NULL,
				student_id TEXT NOT NULL,
				concept TEXT NOT NULL DEFAULT '',
				score INTEGER NOT NULL CHECK (score >= 0 AND score <= 100),
				progression_ready INTEGER NOT NULL DEFAULT 0,
				summary TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_session_feedback_latest
				ON session_feedback(session_id, student_id, created_at DESC, seq DESC);`,
			DownSQL: `DROP TABLE IF EXISTS session_feedback;`,
		},
		{
			Version: 3,
			Name:    "create_teaching_states",
			UpSQL: `
			CREATE TABLE IF NOT EXISTS teaching_states (
				session_id TEXT PRIMARY KEY,
				current_topic TEXT NOT NULL DEFAULT '',
				current_concept TEXT NOT NULL DEFAULT '',
				phase TEXT NOT NULL DEFAULT 'explain',
				completed_phases TEXT NOT NULL DEFAULT '[]',
				concept_progress INTEGER NOT NULL DEFAULT 0,
				resources TEXT NOT NULL DEFAULT '[]',
				updated_at INTEGER NOT NULL
			);`,
			DownSQL: `DROP TABLE IF EXISTS teaching_states;`,
		},
		{
			Version: 4,
			Name:    "add_concept_cycles",
			UpSQL: `
			ALTER TABLE tutoring_sessions ADD COLUMN concept_cycle INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE tutoring_sessions ADD COLUMN progression TEXT;
			ALTER TABLE teaching_states ADD COLUMN cycle INTEGER NOT NULL DEFAULT 0;`,
			DownSQL: `
			ALTER TABLE teaching_states DROP COLUMN cycle;
			ALTER TABLE tutoring_sessions DROP COLUMN progression;
			ALTER TABLE tutoring_sessions DROP COLUMN concept_cycle;`,
		},
	}
}

// Migrator applies Migrations and tracks them in schema_migrations.
type Migrator struct {
	store      *Store
	migrations []Migration
}

// NewMigrator creates a migrator for store.
func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store, migrations: Migrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.store.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.store.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at int64
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[v] = fromMillis(at)
	}
	return out, rows.Err()
}

// Migrate applies pending migrations and returns how many ran.
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
		err := m.store.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("migration %d: %w", mig.Version, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				mig.Version, mig.Name, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// Rollback reverts the newest applied migration and returns its version,
// or 0 when nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return 0, nil
	}

	var down string
	for _, mig := range m.migrations {
		if mig.Version == last {
			down = mig.DownSQL
		}
	}
	if down == "" {
		return 0, fmt.Errorf("missing down SQL for migration %d", last)
	}

	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, down); err != nil {
			return fmt.Errorf("rollback %d: %w", last, err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, last)
		return err
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Status lists every migration with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}
