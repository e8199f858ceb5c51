package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"paperfeed/internal/miniflux"
	"paperfeed/internal/queue"
	"paperfeed/internal/store"
)

func newMarkReadCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark-read",
		Short: "Mark entries, feeds or everything as read",
	}

	cmd.AddCommand(newMarkEntryCommand(ctx, "entry", miniflux.StatusRead))
	cmd.AddCommand(newMarkCollectionCommand(ctx, "feed", queue.KindFeed))
	cmd.AddCommand(newMarkCollectionCommand(ctx, "category", queue.KindCategory))
	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Mark every entry as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(rt *runtime) error {
				return rt.service.MarkCollectionRead(cmd.Context(), queue.KindAll, 0)
			})
		},
	})

	return cmd
}

func newMarkUnreadCommand(ctx *commandContext) *cobra.Command {
	return newMarkEntryCommand(ctx, "mark-unread", miniflux.StatusUnread)
}

func newMarkEntryCommand(ctx *commandContext, use, status string) *cobra.Command {
	short := "Mark entries as read"
	if status == miniflux.StatusUnread {
		short = "Mark entries as unread"
	}
	return &cobra.Command{
		Use:   use + " <entry-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				for _, id := range ids {
					assumed := assumedStatus(rt, id, status)
					if err := rt.service.SetEntryStatus(cmd.Context(), id, status, assumed); err != nil {
						return fmt.Errorf("entry %d: %w", id, err)
					}
				}
				return nil
			})
		},
	}
}

// assumedStatus is the pre-change status recorded with a queued mutation,
// taken from the local copy when one exists.
func assumedStatus(rt *runtime, entryID int64, newStatus string) string {
	meta, err := rt.store.Load(entryID)
	if err == nil {
		return meta.Status
	}
	if newStatus == miniflux.StatusRead {
		return miniflux.StatusUnread
	}
	return miniflux.StatusRead
}

func newMarkCollectionCommand(ctx *commandContext, use string, kind queue.CollectionKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Mark a whole " + use + " as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				return rt.service.MarkCollectionRead(cmd.Context(), kind, ids[0])
			})
		},
	}
}

func newStarCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "star <entry-id>...",
		Short: "Toggle the bookmark on entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				for _, id := range ids {
					current := false
					meta, err := rt.store.Load(id)
					switch {
					case err == nil:
						current = meta.Starred
					case !errors.Is(err, store.ErrNotFound):
						return err
					}
					if err := rt.service.ToggleStarred(cmd.Context(), id, current); err != nil {
						return fmt.Errorf("entry %d: %w", id, err)
					}
				}
				return nil
			})
		},
	}
}
