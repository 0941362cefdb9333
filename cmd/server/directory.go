package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-coordinator/internal/container"
)

// newDirectoryCmd maintains the local copies of users and business requests
// that approvals refer to
func newDirectoryCmd(a *app) *cobra.Command {
	dir := &cobra.Command{
		Use:   "directory",
		Short: "Register users and business requests",
	}

	var (
		userName string
		isAdmin  bool
	)
	user := &cobra.Command{
		Use:   "user <id>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withContainer(a, cmd, func(ctr *container.Container) error {
				if err := ctr.Repositories().Directory.UpsertUser(cmd.Context(), id, userName, isAdmin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d saved\n", id)
				return nil
			})
		},
	}
	user.Flags().StringVar(&userName, "name", "", "display name")
	user.Flags().BoolVar(&isAdmin, "admin", false, "grant administrator rights")

	var (
		kind        string
		requesterID int64
	)
	business := &cobra.Command{
		Use:   "business <id>",
		Short: "Create or update a business request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withContainer(a, cmd, func(ctr *container.Container) error {
				if err := ctr.Repositories().Directory.UpsertBusinessRequest(cmd.Context(), id, kind, requesterID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "business request %d saved\n", id)
				return nil
			})
		},
	}
	business.Flags().StringVar(&kind, "kind", "generic", "request kind, e.g. leave or purchase")
	business.Flags().Int64Var(&requesterID, "requester", 0, "id of the requesting user")

	dir.AddCommand(user, business)
	return dir
}

func withContainer(a *app, cmd *cobra.Command, fn func(ctr *container.Container) error) error {
	cfg := a.cfg.ToContainerConfig()
	cfg.Sweeper.Enabled = false
	cfg.Redis.Enabled = false

	ctr, err := container.NewContainer(cfg, a.logger)
	if err != nil {
		return err
	}
	if err := ctr.Start(cmd.Context()); err != nil {
		return err
	}
	defer ctr.Close()

	return fn(ctr)
}
