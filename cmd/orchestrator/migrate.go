package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the durable store schema",
	Long: `Apply, roll back, or inspect schema migrations of the store selected
by DB_DRIVER (postgres or sqlite).

Examples:
  orchestrator migrate up
  DB_DRIVER=sqlite SQLITE_PATH=tutor.db orchestrator migrate status`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, log, err := openForCLI(cmd)
		if err != nil {
			return err
		}
		defer store.close()

		n, err := store.migrator.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		log.Info("migrations applied", logger.Int("count", n))
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, log, err := openForCLI(cmd)
		if err != nil {
			return err
		}
		defer store.close()

		version, err := store.migrator.Rollback(cmd.Context())
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("nothing to roll back")
			return nil
		}
		log.Info("migration rolled back", logger.Int("version", version))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, _, err := openForCLI(cmd)
		if err != nil {
			return err
		}
		defer store.close()

		list, err := store.status(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
		for _, m := range list {
			applied := "pending"
			if m.Applied {
				applied = m.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
		}
		return w.Flush()
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// openForCLI loads config and opens only the durable store.
func openForCLI(cmd *cobra.Command) (*durableStore, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Format = logger.FormatConsole
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	log := logger.New(opts)

	store, err := openDurable(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return store, log, nil
}
