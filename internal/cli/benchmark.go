package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBenchmarkCmd creates the 'benchmark' command for inspecting benchmark
// history.
func NewBenchmarkCmd() *cobra.Command {
	var snapshotID string

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Show benchmark history for the live snapshot",
		Long: `List benchmark runs recorded for a snapshot, newest first.

Every candidate trained by 'tool-router train' is benchmarked on its
held-out split before promotion; the history shows how accuracy and latency
moved across retrains.`,
		Example: `  tool-router benchmark
  tool-router benchmark --snapshot snap-3f2a9c1d8e4b7a60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(snapshotID)
		},
	}

	cmd.Flags().StringVarP(&snapshotID, "snapshot", "s", "", "Snapshot version (defaults to live)")
	return cmd
}

func runBenchmark(snapshotID string) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	if snapshotID == "" {
		rec, err := srv.Store().GetLiveSnapshot()
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("No live snapshot. Run 'tool-router train' first.")
			return nil
		}
		snapshotID = rec.VersionID
	}

	benches, err := srv.Store().ListBenchmarks(snapshotID)
	if err != nil {
		return err
	}
	if len(benches) == 0 {
		fmt.Printf("No benchmarks recorded for %s.\n", snapshotID)
		return nil
	}

	fmt.Printf("Benchmarks for %s (%d):\n\n", snapshotID, len(benches))
	for _, b := range benches {
		fmt.Printf("  %s  accuracy=%.3f  p50=%.2fms  p99=%.2fms  examples=%d  tools=%d\n",
			b.Timestamp.Format("2006-01-02 15:04:05"), b.Accuracy,
			b.LatencyP50, b.LatencyP99, b.ExampleCount, b.ToolCount)
	}
	return nil
}
