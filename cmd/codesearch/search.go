package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/repl"
)

func newSearchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search",
		Short: "Run the interactive search loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, stop, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer stop()
			// The interactive loop has no scrape target.
			cfg.Metrics.Enabled = false
			m, stopMetrics := startMetrics(cfg)
			defer stopMetrics()

			coord, _, _, err := buildCoordinator(ctx, cfg, m)
			if err != nil {
				return err
			}
			return repl.New(coord, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}
}
