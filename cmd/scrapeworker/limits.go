package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"scrape-throttle/throttle/domain"
)

func newLimitsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect and change per-domain rate limits",
	}
	cmd.AddCommand(newLimitsListCmd(flags), newLimitsSetCmd(flags), newLimitsResetCmd(flags))
	return cmd
}

func newLimitsListCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rate limits with the live window usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format: %s", output)
			}
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				sts, err := a.service.Statuses(ctx)
				if err != nil {
					return err
				}
				if output == "json" {
					return writeIndentedJSON(cmd.OutOrStdout(), sts)
				}
				renderStatuses(cmd.OutOrStdout(), sts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output-format", "table", "Output format: table|json")
	return cmd
}

func renderStatuses(w io.Writer, sts []domain.WindowStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Domain", "Limit", "Window", "Min delay", "In window", "Remaining", "Reset in"})
	for _, st := range sts {
		reset := "-"
		if st.ResetMs > 0 {
			reset = (time.Duration(st.ResetMs) * time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			st.Domain,
			st.Limit,
			st.Config.Window.String(),
			st.Config.MinDelay.String(),
			st.CurrentCount,
			st.Remaining,
			reset,
		})
	}
	t.Render()
}

func newLimitsSetCmd(flags *rootFlags) *cobra.Command {
	var (
		requests int
		window   time.Duration
		minDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "set <domain>",
		Short: "Change a domain's limit (unset flags keep their current value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.ConfigPatch
			if cmd.Flags().Changed("requests") {
				patch.RequestsPerWindow = &requests
			}
			if cmd.Flags().Changed("window") {
				ms := window.Milliseconds()
				patch.WindowMs = &ms
			}
			if cmd.Flags().Changed("min-delay") {
				ms := minDelay.Milliseconds()
				patch.MinDelayMs = &ms
			}
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				cfg, err := a.registry.Set(args[0], patch)
				if err != nil {
					return err
				}
				a.registry.SaveToStore(ctx)
				return writeIndentedJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}
	cmd.Flags().IntVar(&requests, "requests", 0, "Requests allowed per window")
	cmd.Flags().DurationVar(&window, "window", 0, "Window length (e.g. 60s)")
	cmd.Flags().DurationVar(&minDelay, "min-delay", 0, "Minimum spacing between requests in one process (e.g. 1500ms)")
	return cmd
}

func newLimitsResetCmd(flags *rootFlags) *cobra.Command {
	var counter bool
	cmd := &cobra.Command{
		Use:   "reset <domain>",
		Short: "Restore a domain's built-in limit, or clear its window with --counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				if counter {
					if err := a.service.ResetCounter(ctx, args[0]); err != nil {
						return err
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "window cleared for %s\n", args[0])
					return err
				}
				cfg := a.registry.Reset(args[0])
				a.registry.SaveToStore(ctx)
				return writeIndentedJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}
	cmd.Flags().BoolVar(&counter, "counter", false, "Clear the shared request window instead of the config")
	return cmd
}

func writeIndentedJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}
