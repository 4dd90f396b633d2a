package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the 'status' command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show router status",
		Long:  `Display the live snapshot, tool count, corpus size and fallback state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf("Tools:     %d\n", srv.Registry().Len())

	if snap := srv.Live().Current(); snap != nil {
		fmt.Printf("Snapshot:  %s (%d classes)\n", snap.VersionID, len(snap.Classes))
	} else {
		fmt.Println("Snapshot:  none (pattern tier cold, run 'tool-router train')")
	}

	eligible, err := srv.Corpus().TrainingSet()
	if err != nil {
		return err
	}
	fmt.Printf("Corpus:    %d eligible examples\n", len(eligible))

	pending, err := srv.Manager().Pending()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Printf("Pending:   %d proposal(s) awaiting approval\n", len(pending))
	}
	return nil
}
