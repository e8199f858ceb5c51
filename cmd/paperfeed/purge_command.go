package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		olderThan time.Duration
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete downloaded entries from the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && olderThan <= 0 {
				return errors.New("specify --older-than or --all")
			}
			return ctx.withService(func(rt *runtime) error {
				var (
					removed int
					err     error
				)
				if all {
					removed, err = rt.store.DeleteAll()
				} else {
					removed, err = rt.store.PurgeOlderThan(time.Now().Add(-olderThan))
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete entries last updated before this age (e.g. 720h)")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every downloaded entry")

	return cmd
}
