package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewListCmd creates the 'list' command for listing registered tools.
func NewListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all registered tools",
		Long:    `Display all tools in the catalog with their categories and utterances.`,
		Example: `  tool-router list
  tool-router ls --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func runList(jsonOutput bool) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	tools := srv.Registry().List()

	if jsonOutput {
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(tools) == 0 {
		fmt.Println("No tools registered.")
		fmt.Println("Run 'tool-router add' to register one.")
		return nil
	}

	fmt.Printf("Registered tools (%d):\n\n", len(tools))
	for _, tool := range tools {
		state := ""
		if !tool.Enabled {
			state = " (disabled)"
		}
		fmt.Printf("  %s%s\n", tool.Name, state)
		if tool.Category != "" {
			fmt.Printf("    Category:   %s\n", tool.Category)
		}
		for _, u := range tool.ExampleUtterances {
			fmt.Printf("    Utterance:  %s\n", u)
		}
		if len(tool.ArgumentSchema) > 0 {
			fmt.Printf("    Arguments:  %d\n", len(tool.ArgumentSchema))
		}
		fmt.Println()
	}
	return nil
}
