package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the 'remove' command for deregistering tools.
func NewRemoveCmd() *cobra.Command {
	var disableOnly bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a tool from the router",
		Long: `Deregister a tool. Its training examples and past decisions stay in
storage, referenced by name, so re-registering later restores history.

Use --disable to keep the tool registered but exclude it from routing.`,
		Example: `  tool-router remove deploy_service
  tool-router remove deploy_service --disable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(args[0], disableOnly)
		},
	}

	cmd.Flags().BoolVarP(&disableOnly, "disable", "d", false, "Disable routing without deregistering")
	return cmd
}

func runRemove(name string, disableOnly bool) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	if disableOnly {
		if err := srv.Registry().SetEnabled(name, false); err != nil {
			return err
		}
	} else {
		if err := srv.Registry().Deregister(name); err != nil {
			return err
		}
	}

	if err := srv.SaveCatalog(); err != nil {
		return err
	}

	if disableOnly {
		fmt.Printf("✓ Disabled '%s'\n", name)
	} else {
		fmt.Printf("✓ Removed '%s'\n", name)
	}
	return nil
}
