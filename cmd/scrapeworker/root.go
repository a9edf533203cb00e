package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	envFile    string
	configFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "scrapeworker",
		Short:         "Distributed scrape throttle: workers, scheduler and rate-limit admin",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file loaded before reading the environment")
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Optional config.yaml (environment wins)")

	root.AddCommand(
		newWorkerCmd(flags),
		newSchedulerCmd(flags),
		newAdminCmd(flags),
		newLimitsCmd(flags),
		newEnqueueCmd(flags),
		newTrackersCmd(flags),
	)
	return root
}
