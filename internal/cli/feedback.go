package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewFeedbackCmd creates the 'feedback' command for closing the loop on a
// routing decision.
func NewFeedbackCmd() *cobra.Command {
	var (
		success     bool
		failure     bool
		correctTool string
		argPairs    []string
	)

	cmd := &cobra.Command{
		Use:   "feedback <decision-id>",
		Short: "Report the outcome of a routing decision",
		Long: `Record whether a routed decision was correct.

Outcomes feed the recency tie-breaker and decide which observed decisions
the corpus harvester trusts. A correction with --tool additionally writes a
high-trust training example for the right tool and supersedes examples
derived from the wrong decision.`,
		Example: `  tool-router feedback 4f7c... --success
  tool-router feedback 4f7c... --failure
  tool-router feedback 4f7c... --failure --tool deploy_service --arg service=api --arg environment=prod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if success == failure {
				return fmt.Errorf("exactly one of --success or --failure is required")
			}
			return runFeedback(args[0], success, correctTool, argPairs)
		},
	}

	cmd.Flags().BoolVar(&success, "success", false, "The routed tool was correct")
	cmd.Flags().BoolVar(&failure, "failure", false, "The routed tool was wrong")
	cmd.Flags().StringVarP(&correctTool, "tool", "t", "", "The tool that should have been selected")
	cmd.Flags().StringArrayVarP(&argPairs, "arg", "a", nil, "Corrected argument (key=value, repeatable)")
	return cmd
}

func runFeedback(decisionID string, success bool, correctTool string, argPairs []string) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Router().ReportOutcome(decisionID, success); err != nil {
		return err
	}
	fmt.Printf("✓ Outcome recorded for %s\n", decisionID)

	if correctTool == "" {
		return nil
	}

	arguments := make(map[string]string, len(argPairs))
	for _, pair := range argPairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		arguments[key] = value
	}

	inserted, err := srv.Corpus().RecordCorrection(decisionID, correctTool, arguments)
	if err != nil {
		return err
	}
	if inserted {
		fmt.Printf("✓ Correction recorded: %s\n", correctTool)
		fmt.Println("The correction takes effect on the next retrain.")
	} else {
		fmt.Println("Correction already recorded.")
	}
	return nil
}
