package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"paperfeed/internal/app"
	"paperfeed/internal/nav"
)

func newNavCommand(ctx *commandContext, use, short string) *cobra.Command {
	var (
		feedID     int64
		categoryID int64
		statuses   []string
		starred    bool
	)

	dir := nav.Next
	if use == "prev" {
		dir = nav.Previous
	}

	cmd := &cobra.Command{
		Use:   use + " <entry-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				ref, err := resolveRef(cmd.Context(), rt, ids[0])
				if err != nil {
					return err
				}

				navCtx := app.NavContext{
					Ref: ref,
					Scope: nav.Scope{
						FeedID:     feedID,
						CategoryID: categoryID,
						Statuses:   statuses,
						Starred:    starred,
					},
				}
				res, err := rt.service.Navigate(cmd.Context(), navCtx, dir)
				if errors.Is(err, nav.ErrNoAdjacent) {
					fmt.Fprintf(cmd.OutOrStdout(), "no %s entry\n", dir)
					return nil
				}
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.ErrOrStderr(), "entry %d: %s\n", res.Metadata.EntryID, res.Metadata.Title)
				fmt.Fprintln(cmd.OutOrStdout(), res.Path)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&feedID, "feed", 0, "Stay within one feed")
	cmd.Flags().Int64Var(&categoryID, "category", 0, "Stay within one category")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only entries with these statuses")
	cmd.Flags().BoolVar(&starred, "starred", false, "Only starred entries")

	return cmd
}
