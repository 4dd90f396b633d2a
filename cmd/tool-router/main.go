/*
Package main is the entry point for the tool-router CLI.

tool-router is an adaptive tool router: it maps natural-language queries to
registered tools through a three-tier escalation ladder (pattern classifier,
hybrid semantic search, external fallback) and retrains itself from observed
decisions and operator corrections.

Usage:
  tool-router [command]

Available Commands:
  serve       Run the router (stdio transport)
  route       Route a query to a tool
  add         Register a tool
  remove      Remove a tool
  list        List all registered tools
  train       Retrain the pattern classifier
  benchmark   Show benchmark history
  lifecycle   Manage improvement proposals
  feedback    Report the outcome of a decision
  status      Show router status
  help        Help about any command

Examples:
  # Register a tool and train
  tool-router add deploy_service --category ops --utterance "deploy {service} to {environment}"
  tool-router train

  # Route a query
  tool-router route "deploy api-server to production"
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/tool-router/internal/cli"
	"github.com/khanglvm/tool-router/internal/version"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "tool-router",
		Short: "Adaptive tool router with a self-improving training loop",
		Long: `tool-router maps natural-language queries to registered tools.

Requests walk a three-tier escalation ladder:
  • pattern  - trained TF-IDF classifier, accepts at confidence ≥ 0.70
  • mid      - hybrid semantic + keyword search, accepts at ≥ 0.60
  • fallback - external reasoning backend, always accepts

Every decision is logged. Observed decisions and operator corrections feed
a training corpus; retrains are benchmarked against the live model and
promoted only when they improve it, with one-command rollback.`,
		Version: version.GetVersion(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.SetConfigPath(configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.tool-router.json)")

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewRouteCmd())
	rootCmd.AddCommand(cli.NewAddCmd())
	rootCmd.AddCommand(cli.NewRemoveCmd())
	rootCmd.AddCommand(cli.NewListCmd())
	rootCmd.AddCommand(cli.NewTrainCmd())
	rootCmd.AddCommand(cli.NewBenchmarkCmd())
	rootCmd.AddCommand(cli.NewLifecycleCmd())
	rootCmd.AddCommand(cli.NewFeedbackCmd())
	rootCmd.AddCommand(cli.NewStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
