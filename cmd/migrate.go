// File: cmd/migrate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psd401/contextgraph/internal/observability"
	"github.com/psd401/contextgraph/internal/service"
	"github.com/psd401/contextgraph/internal/store"
)

// newMigrateCmd creates the `migrate` command, which applies the graph schema
// to the configured PostgreSQL database.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the graph schema to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			pool, err := service.OpenPool(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("Graph schema is up to date.")
			cmd.Println("Migration complete.")
			return nil
		},
	}
}
