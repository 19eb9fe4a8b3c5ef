package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/windflow-ai/windflow/engine"
	"github.com/windflow-ai/windflow/loader"
	"github.com/windflow-ai/windflow/provider"
	"github.com/windflow-ai/windflow/tracing"
)

var (
	inputJSON string
	inputFile string
	modelName string
	baseURL   string
	dryRun    bool
	traceFile string
	verbose   bool
)

func main() {
	root := &cobra.Command{
		Use:           "windflow",
		Short:         "Run declarative AI workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), validateCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if traceFile != "" {
				if err := tracing.Init("windflow", "dev", traceFile); err != nil {
					return fmt.Errorf("failed to initialise tracing: %w", err)
				}
			}

			input, err := resolveInput()
			if err != nil {
				return err
			}
			workflow, err := loader.New().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var textProvider provider.Provider
			if dryRun {
				textProvider = provider.NewScripted()
			} else {
				var options []provider.ClientOption
				if baseURL != "" {
					options = append(options, provider.WithBaseURL(baseURL))
				}
				textProvider = provider.NewClient(options...)
			}

			e := engine.New(textProvider,
				engine.WithLogger(logger),
				engine.WithConfig(&engine.Config{DefaultModel: modelName}),
			)
			run, err := e.Run(cmd.Context(), workflow, input)
			if err != nil {
				return err
			}

			switch output := run.Output.(type) {
			case string:
				fmt.Println(output)
			default:
				encoded, err := json.MarshalIndent(output, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputJSON, "input", "", "workflow input as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "file with the workflow input as JSON")
	cmd.Flags().StringVar(&modelName, "model", "", "default model for prompt steps")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "provider base URL (defaults to OPENAI_BASE_URL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run without provider calls, prompt steps return empty text")
	cmd.Flags().StringVar(&traceFile, "trace", "", "write an execution trace to the given file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Check a workflow definition without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflow, issues, err := loader.New().Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Printf("workflow %q is valid (%d step(s))\n", workflow.Name, len(workflow.Steps))
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(os.Stderr, "-", issue)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

func buildLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func resolveInput() (map[string]interface{}, error) {
	raw := inputJSON
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}
