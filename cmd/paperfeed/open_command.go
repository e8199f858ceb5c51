package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOpenCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <entry-id>",
		Short: "Resolve an entry for viewing and print its local document path",
		Long: "Open prefers the local copy; only entries never downloaded touch the\n" +
			"network. With mark_read_on_open set, opening marks the entry read on the\n" +
			"server, or queues the change when the server is unreachable.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				res, err := rt.service.Open(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if res.Downloaded {
					fmt.Fprintf(cmd.ErrOrStderr(), "downloaded entry %d\n", ids[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Path)
				return nil
			})
		},
	}
	return cmd
}

func newNextCommand(ctx *commandContext) *cobra.Command {
	return newNavCommand(ctx, "next", "Open the next (older) entry relative to the given one")
}

func newPrevCommand(ctx *commandContext) *cobra.Command {
	return newNavCommand(ctx, "prev", "Open the previous (newer) entry relative to the given one")
}
