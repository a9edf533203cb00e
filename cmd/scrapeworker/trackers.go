package main

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"scrape-throttle/throttle/domain"
	"scrape-throttle/worker/scrape"
)

func newTrackersCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackers",
		Short: "Manage tracked competitor listings",
	}
	cmd.AddCommand(newTrackersAddCmd(flags), newTrackersListCmd(flags))
	return cmd
}

func newTrackersAddCmd(flags *rootFlags) *cobra.Command {
	var t scrape.Tracker
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Start tracking a competitor listing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if t.URL == "" {
				return errors.New("--url is required")
			}
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				store, err := a.trackingStore(ctx)
				if err != nil {
					return err
				}
				if err := store.Save(ctx, t); err != nil {
					return err
				}
				return writeIndentedJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "Tracker id (default: random uuid)")
	cmd.Flags().StringVar(&t.URL, "url", "", "Competitor listing URL")
	cmd.Flags().StringVar(&t.ListingID, "listing", "", "Our listing id")
	cmd.Flags().StringVar(&t.Title, "title", "", "Listing title")
	return cmd
}

func newTrackersListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked competitors and their last price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				store, err := a.trackingStore(ctx)
				if err != nil {
					return err
				}
				ids, err := store.ListIDs(ctx)
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.SetStyle(table.StyleRounded)
				tw.AppendHeader(table.Row{"ID", "Domain", "Price", "Checks", "Last checked"})
				for _, id := range ids {
					t, err := store.Get(ctx, id)
					if err != nil {
						return err
					}
					last := "-"
					if !t.LastChecked.IsZero() {
						last = t.LastChecked.Local().Format("2006-01-02 15:04:05")
					}
					tw.AppendRow(table.Row{t.ID, domain.KeyFromURL(t.URL), t.CompetitorPrice, len(t.PriceHistory), last})
				}
				tw.Render()
				return nil
			})
		},
	}
}
