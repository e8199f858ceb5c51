package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paperfeed/internal/app"
	"paperfeed/internal/download"
	"paperfeed/internal/miniflux"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var noImages bool

	cmd := &cobra.Command{
		Use:   "download <entry-id>...",
		Short: "Download entries for offline reading",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}

			adjust := func(s *app.Settings) {
				if noImages {
					s.IncludeImages = false
				}
			}
			return ctx.withServiceSettings(adjust, func(rt *runtime) error {
				entries := make([]miniflux.Entry, 0, len(ids))
				for _, id := range ids {
					entry, err := rt.client.GetEntry(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("fetch entry %d: %w", id, err)
					}
					entries = append(entries, *entry)
				}

				results := rt.service.DownloadEntries(cmd.Context(), entries)
				return reportDownloads(cmd, results)
			})
		},
	}

	cmd.Flags().BoolVar(&noImages, "no-images", false, "Skip image downloads for this run")

	return cmd
}

func reportDownloads(cmd *cobra.Command, results []download.Result) error {
	var failed int
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d: failed: %v\n", res.EntryID, res.Err)
		case res.Canceled:
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d: canceled\n", res.EntryID)
		case res.AlreadyLocal:
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d: already downloaded\n", res.EntryID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d: saved (%d images", res.EntryID, res.ImagesOK)
			if res.ImagesFailed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", res.ImagesFailed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}

func newRecoverImagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover-images <entry-id>...",
		Short: "Re-download missing images for already-downloaded entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseEntryIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(rt *runtime) error {
				for _, id := range ids {
					res, err := rt.service.RecoverImages(cmd.Context(), id, rt.fetcher)
					if err != nil {
						return fmt.Errorf("recover entry %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "entry %d: %d recovered, %d failed, %d already present\n",
						id, res.Recovered, res.Failed, res.Skipped)
				}
				return nil
			})
		},
	}
}
