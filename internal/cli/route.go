package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRouteCmd creates the 'route' command for one-shot routing.
func NewRouteCmd() *cobra.Command {
	var jsonOutput bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Route a query to a tool",
		Long: `Route a natural-language query through the escalation ladder and print
the selected tool, extracted arguments and confidence.

The decision is logged; use 'tool-router feedback' with the printed decision
id to report whether the selection was correct.`,
		Example: `  tool-router route "deploy api-server to production"
  tool-router route --json "search for golang tutorials"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(strings.Join(args, " "), jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output the full decision as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runRoute(query string, jsonOutput, verbose bool) error {
	srv, err := openServer(verbose)
	if err != nil {
		return err
	}
	defer srv.Close()

	dec, err := srv.Router().Route(context.Background(), query)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(dec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Tool:       %s\n", dec.ToolName)
	fmt.Printf("Confidence: %.2f (%s)\n", dec.Confidence, dec.Source)
	if len(dec.Arguments) > 0 {
		fmt.Println("Arguments:")
		for k, v := range dec.Arguments {
			fmt.Printf("  %s = %s\n", k, v)
		}
	}
	fmt.Printf("Decision:   %s\n", dec.ID)
	fmt.Printf("Latency:    %.1fms\n", dec.LatencyMs)
	return nil
}
