// Command codesearch finds code by natural-language description. It embeds
// the query with a trained joint model and ranks precomputed code vectors by
// cosine similarity.
//
// Usage:
//
//	codesearch search    [--config file]  interactive search loop
//	codesearch serve     [--config file]  HTTP search service
//	codesearch repr      [--config file]  compute code vectors for the corpus
//	codesearch analytics [--config file]  aggregate search events from Kafka
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "codesearch",
		Short:         "Search a code corpus with natural-language queries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults apply when empty)")

	root.AddCommand(
		newSearchCmd(&configPath),
		newServeCmd(&configPath),
		newReprCmd(&configPath),
		newAnalyticsCmd(&configPath),
	)
	return root
}
