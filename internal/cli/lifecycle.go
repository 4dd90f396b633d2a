package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLifecycleCmd creates the 'lifecycle' command group for managing
// improvement proposals.
func NewLifecycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Manage improvement proposals",
		Long: `Inspect and resolve improvement proposals.

Low-impact proposals auto-approve; anything higher suspends in
pending_approval until an operator decides. Applied proposals can be rolled
back to their anchor snapshot at any time.`,
	}

	cmd.AddCommand(newLifecycleListCmd())
	cmd.AddCommand(newLifecycleApproveCmd())
	cmd.AddCommand(newLifecycleRejectCmd())
	cmd.AddCommand(newLifecycleApplyCmd())
	cmd.AddCommand(newLifecycleRollbackCmd())
	return cmd
}

func newLifecycleListCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List proposals",
		Example: `  tool-router lifecycle list
  tool-router lifecycle list --state pending_approval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := openServer(false)
			if err != nil {
				return err
			}
			defer srv.Close()

			proposals, err := srv.Store().ListProposals(state)
			if err != nil {
				return err
			}
			if len(proposals) == 0 {
				fmt.Println("No proposals.")
				return nil
			}
			for _, p := range proposals {
				fmt.Printf("  %s  [%s/%s]  %s\n", p.ProposalID, p.Impact, p.State, p.DiffDescription)
				if p.CandidateSnapshot != "" {
					fmt.Printf("      candidate: %s", p.CandidateSnapshot)
					if p.AnchorSnapshot != "" {
						fmt.Printf("  anchor: %s", p.AnchorSnapshot)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "Filter by lifecycle state")
	return cmd
}

func newLifecycleApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "approve <proposal-id>",
		Short:   "Approve a pending proposal",
		Example: `  tool-router lifecycle approve prop-1a2b3c`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveProposal(args[0], true)
		},
	}
}

func newLifecycleRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reject <proposal-id>",
		Short:   "Reject a pending proposal",
		Example: `  tool-router lifecycle reject prop-1a2b3c`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveProposal(args[0], false)
		},
	}
}

func resolveProposal(proposalID string, approve bool) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	rec, err := srv.Manager().ResumeApproval(proposalID, approve)
	if err != nil {
		return err
	}
	fmt.Printf("Proposal %s is now %s.\n", rec.ProposalID, rec.State)
	if approve {
		fmt.Printf("Apply with: tool-router lifecycle apply %s\n", rec.ProposalID)
	}
	return nil
}

func newLifecycleApplyCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:     "apply <proposal-id>",
		Short:   "Train and promote an approved proposal",
		Example: `  tool-router lifecycle apply prop-1a2b3c`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := openServer(verbose)
			if err != nil {
				return err
			}
			defer srv.Close()

			rec, err := srv.Manager().Apply(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printApplyResult(srv, rec)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func newLifecycleRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <proposal-id>",
		Short: "Restore the proposal's anchor snapshot",
		Long: `Re-promote the snapshot that was live before the proposal was applied.
The proposal's candidate snapshot is marked failed and kept for forensics.`,
		Example: `  tool-router lifecycle rollback prop-1a2b3c`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := openServer(false)
			if err != nil {
				return err
			}
			defer srv.Close()

			rec, err := srv.Manager().Rollback(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Proposal %s rolled back.\n", rec.ProposalID)
			if rec.AnchorSnapshot != "" {
				fmt.Printf("  Live snapshot restored: %s\n", rec.AnchorSnapshot)
			}
			return nil
		},
	}
}
