package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/tool-router/internal/registry"
)

// NewAddCmd creates the 'add' command for registering tools.
//
// Supports two modes:
// 1. JSON: full descriptor via --json or --file (argument schemas, examples)
// 2. Flags: name, category and example utterances directly
func NewAddCmd() *cobra.Command {
	var (
		category   string
		utterances []string
		jsonInput  string
		jsonFile   string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Register a tool - pass a descriptor JSON or use flags",
		Long: `Register a tool with the router.

Registration immediately generates the tool's synthetic training corpus from
its example utterances and rebuilds the keyword index, so the mid tier can
route to the tool before the next retrain.

JSON MODE:
  Pass a full descriptor with --json or --file. Slots in utterances are
  written in braces and must match the argument schema:

    {
      "name": "deploy_service",
      "category": "ops",
      "exampleUtterances": ["deploy {service} to {environment}"],
      "argumentSchema": {
        "service":     {"type": "string", "required": true, "examples": ["api", "web"]},
        "environment": {"type": "string", "required": true, "examples": ["staging", "production"]}
      }
    }

FLAG MODE:
  Specify name, category and utterances directly. Utterances without slots
  need no schema.`,
		Example: `  # Flag mode
  tool-router add cluster_status --category ops --utterance "show cluster status" --utterance "is the cluster healthy"

  # JSON mode
  tool-router add --file deploy_service.json
  tool-router add --json '{"name":"search_web","exampleUtterances":["search for {query}"],"argumentSchema":{"query":{"type":"string","required":true,"examples":["golang"]}}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonInput != "" || jsonFile != "" {
				return runAddJSON(jsonInput, jsonFile)
			}
			if len(args) == 0 {
				return fmt.Errorf("tool name required when not using --json or --file")
			}
			return runAddWithFlags(args[0], category, utterances)
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Tool category (e.g. ops, search, files)")
	cmd.Flags().StringArrayVarP(&utterances, "utterance", "u", nil, "Example utterance (repeatable)")
	cmd.Flags().StringVarP(&jsonInput, "json", "j", "", "Tool descriptor JSON")
	cmd.Flags().StringVarP(&jsonFile, "file", "f", "", "Path to a tool descriptor JSON file")

	return cmd
}

func runAddJSON(jsonInput, jsonFile string) error {
	input := []byte(jsonInput)
	if jsonFile != "" {
		data, err := os.ReadFile(jsonFile)
		if err != nil {
			return fmt.Errorf("failed to read descriptor file: %w", err)
		}
		input = data
	}

	var desc registry.ToolDescriptor
	if err := json.Unmarshal(input, &desc); err != nil {
		return fmt.Errorf("invalid descriptor JSON: %w", err)
	}
	if desc.Name == "" {
		return fmt.Errorf("descriptor is missing a name")
	}
	return registerTool(desc)
}

func runAddWithFlags(name, category string, utterances []string) error {
	if len(utterances) == 0 {
		return fmt.Errorf("at least one --utterance is required")
	}
	return registerTool(registry.ToolDescriptor{
		Name:              name,
		Category:          category,
		ExampleUtterances: utterances,
	})
}

// registerTool registers the descriptor, generates its synthetic corpus and
// persists the catalog.
func registerTool(desc registry.ToolDescriptor) error {
	srv, err := openServer(false)
	if err != nil {
		return err
	}
	defer srv.Close()

	desc.Enabled = true
	if err := srv.Registry().Register(desc); err != nil {
		return err
	}

	examples, err := srv.Corpus().GenerateForTool(desc)
	if err != nil {
		return fmt.Errorf("registered '%s' but corpus generation failed: %w", desc.Name, err)
	}
	if err := srv.SaveCatalog(); err != nil {
		return err
	}

	fmt.Printf("✓ Registered '%s' (%d training examples generated)\n", desc.Name, len(examples))
	fmt.Println("Run 'tool-router train' to retrain the pattern classifier.")
	return nil
}
