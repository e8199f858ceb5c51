package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paperfeed/internal/miniflux"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		feedID     int64
		categoryID int64
		statuses   []string
		starred    bool
		limit      int
		localOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries from the server, or the local store with --local",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(rt *runtime) error {
				if localOnly {
					return listLocal(cmd, rt)
				}

				list, err := rt.service.ListEntries(cmd.Context(), miniflux.Filter{
					FeedID:     feedID,
					CategoryID: categoryID,
					Statuses:   statuses,
					Starred:    starred,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if len(list.Entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No entries")
					return nil
				}

				rows := make([][]string, 0, len(list.Entries))
				for _, entry := range list.Entries {
					rows = append(rows, entryRow(entry, rt.store.IsDownloaded(entry.ID)))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(entryHeaders, rows, entryAligns))
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", len(list.Entries), list.Total)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&feedID, "feed", 0, "Restrict to one feed")
	cmd.Flags().Int64Var(&categoryID, "category", 0, "Restrict to one category")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (unread, read, removed)")
	cmd.Flags().BoolVar(&starred, "starred", false, "Only starred entries")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return (default from config)")
	cmd.Flags().BoolVar(&localOnly, "local", false, "List downloaded entries without touching the server")

	return cmd
}

func listLocal(cmd *cobra.Command, rt *runtime) error {
	metas, err := rt.store.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local entries")
		return nil
	}

	rows := make([][]string, 0, len(metas))
	for _, meta := range metas {
		star := ""
		if meta.Starred {
			star = "★"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", meta.EntryID),
			truncate(meta.Title, 60),
			truncate(meta.FeedTitle, 30),
			meta.Status,
			star,
			fmt.Sprintf("%d", len(meta.Images)),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Title", "Feed", "Status", "", "Images"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}
