package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/company-enricher/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.DB.DSN == "" {
				return errors.New("db.dsn must be set (or PRISMA_URL)")
			}
			store, pool, err := pgstore.NewCompanyStore(cmd.Context(), pgstore.Config{
				DSN:   rt.cfg.DB.DSN,
				Table: rt.cfg.DB.Table,
			})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer store.Close()
			if err := pgstore.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			rt.logger.Info("database migrations applied")
			return nil
		},
	}
}
