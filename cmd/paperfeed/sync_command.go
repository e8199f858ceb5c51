package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var discard bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending status, bookmark and mark-read changes to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(rt *runtime) error {
				if discard {
					counts, err := rt.queue.TotalCounts(cmd.Context())
					if err != nil {
						return err
					}
					if counts.Total() == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "Nothing pending")
						return nil
					}
					if err := rt.queue.ClearAll(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d pending changes\n", counts.Total())
					return nil
				}

				report, err := rt.service.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				if report.Nothing() {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing pending")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d, failed %d\n", report.Synced, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d changes remain queued", report.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&discard, "discard", false, "Drop all pending changes instead of syncing")

	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and local store size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(rt *runtime) error {
				counts, err := rt.service.PendingCounts(cmd.Context())
				if err != nil {
					return err
				}
				ids, err := rt.store.LocalIDs()
				if err != nil {
					return err
				}

				rows := [][]string{
					{"Pending status changes", strconv.Itoa(counts.Status)},
					{"Pending bookmark changes", strconv.Itoa(counts.Bookmark)},
					{"Pending mark-read requests", strconv.Itoa(counts.Collection)},
					{"Downloaded entries", strconv.Itoa(len(ids))},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Item", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				if counts.Total() > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Run `paperfeed sync` to push pending changes.")
				}
				return nil
			})
		},
	}
}
