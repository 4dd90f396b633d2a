package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/tool-router/internal/lifecycle"
	"github.com/khanglvm/tool-router/internal/server"
	"github.com/khanglvm/tool-router/internal/storage"
)

// NewTrainCmd creates the 'train' command. It runs the full improvement
// cycle: optionally harvest observed decisions into the corpus, open a
// retrain proposal and apply it through the lifecycle manager.
func NewTrainCmd() *cobra.Command {
	var (
		impact      string
		description string
		harvest     bool
		harvestDays int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the pattern classifier from the current corpus",
		Long: `Open a retrain proposal and apply it.

Low-impact proposals are auto-approved and applied immediately. Higher
impact suspends the proposal in pending_approval; approve it with
'tool-router lifecycle approve <id>' and apply with
'tool-router lifecycle apply <id>'.

The candidate snapshot is benchmarked against the current live model and
promoted only when it improves accuracy, or matches accuracy with lower
median latency. A candidate below the accuracy floor is rejected outright
and nothing is persisted.`,
		Example: `  tool-router train
  tool-router train --harvest --harvest-days 7
  tool-router train --impact high --description "corpus doubled after new tools"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(impact, description, harvest, harvestDays, verbose)
		},
	}

	cmd.Flags().StringVarP(&impact, "impact", "i", lifecycle.ImpactLow, "Proposal impact: low, medium, high, critical")
	cmd.Flags().StringVarP(&description, "description", "d", "scheduled retrain", "Proposal description")
	cmd.Flags().BoolVar(&harvest, "harvest", false, "Harvest observed decisions into the corpus first")
	cmd.Flags().IntVar(&harvestDays, "harvest-days", 7, "How many days of decisions to harvest")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runTrain(impact, description string, harvest bool, harvestDays int, verbose bool) error {
	srv, err := openServer(verbose)
	if err != nil {
		return err
	}
	defer srv.Close()

	if harvest {
		since := time.Now().Add(-time.Duration(harvestDays) * 24 * time.Hour)
		harvested, err := srv.Corpus().HarvestObserved(since)
		if err != nil {
			return fmt.Errorf("harvest failed: %w", err)
		}
		fmt.Printf("Harvested %d observed decisions into the corpus.\n", len(harvested))
	}

	rec, err := srv.Manager().Propose("retrain", impact, description)
	if err != nil {
		return err
	}

	if rec.State == lifecycle.StatePendingApproval {
		fmt.Printf("Proposal %s requires approval (impact: %s).\n", rec.ProposalID, rec.Impact)
		fmt.Printf("Approve with: tool-router lifecycle approve %s\n", rec.ProposalID)
		return nil
	}

	applied, err := srv.Manager().Apply(context.Background(), rec.ProposalID)
	if err != nil {
		return err
	}
	return printApplyResult(srv, applied)
}

// printApplyResult summarizes the outcome of an apply: promoted, committed
// without change, or rolled back on regression.
func printApplyResult(srv *server.Server, rec *storage.ProposalRecord) error {
	switch rec.State {
	case lifecycle.StateCommitted:
		fmt.Printf("✓ Proposal %s committed.\n", rec.ProposalID)
		if rec.CandidateSnapshot != "" {
			fmt.Printf("  Live snapshot: %s\n", rec.CandidateSnapshot)
			printBenchmark(srv, rec.CandidateSnapshot)
		}
	case lifecycle.StateRolledBack:
		fmt.Printf("✗ Proposal %s rolled back: candidate did not beat the live model.\n", rec.ProposalID)
		if rec.AnchorSnapshot != "" {
			fmt.Printf("  Live snapshot remains: %s\n", rec.AnchorSnapshot)
		}
	case lifecycle.StateRejected:
		fmt.Printf("✗ Proposal %s rejected during training.\n", rec.ProposalID)
	default:
		fmt.Printf("Proposal %s is now %s.\n", rec.ProposalID, rec.State)
	}
	return nil
}

func printBenchmark(srv *server.Server, snapshotID string) {
	benches, err := srv.Store().ListBenchmarks(snapshotID)
	if err != nil || len(benches) == 0 {
		return
	}
	b := benches[0]
	fmt.Printf("  Accuracy: %.3f  p50: %.2fms  p99: %.2fms  (%d examples, %d tools)\n",
		b.Accuracy, b.LatencyP50, b.LatencyP99, b.ExampleCount, b.ToolCount)
}
