package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-coordinator/internal/container"
)

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass and exit",
		Long: `Clears stale request locks, expires delegations whose end date has
passed and escalates overdue requests, then exits. Useful from cron when
the server runs with the sweeper disabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.ToContainerConfig()
			cfg.Sweeper.Enabled = false

			ctr, err := container.NewContainer(cfg, a.logger)
			if err != nil {
				return err
			}
			if err := ctr.Start(cmd.Context()); err != nil {
				return err
			}
			defer ctr.Close()

			res := ctr.Sweeper().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "locks cleared: %d\ndelegations expired: %d\nrequests escalated: %d\n",
				res.LocksCleared, res.DelegationsExpired, res.RequestsEscalated)
			return res.Err()
		},
	}
}
