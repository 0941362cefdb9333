package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-coordinator/pkg/database"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.New(database.Config{Path: a.cfg.Database.Path}, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator := database.NewMigrator(db, a.logger)

			if dryRun {
				pending, err := migrator.Pending()
				if err != nil {
					return err
				}
				for _, mg := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "pending %03d_%s\n", mg.Version, mg.Name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d pending migration(s)\n", len(pending))
				return nil
			}

			applied, err := migrator.Run()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
