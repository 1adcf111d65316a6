package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/eval"
)

var (
	payloadFlag string
	stateFlag   string
)

var runCmd = &cobra.Command{
	Use:   "run <document.json>",
	Short: "Evaluate a JSON-encoded AST document and print its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading document: %w", err)
		}
		var doc ast.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing document JSON: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}

		env := environment.New(buildCollaborators(), ws)
		opts := eval.Options{
			InitialFilePath:  args[0],
			WorkingDirectory: ws,
			Mode:             eval.Mode(modeFlag),
		}
		if payloadFlag != "" {
			if err := json.Unmarshal([]byte(payloadFlag), &opts.Payload); err != nil {
				return fmt.Errorf("parsing --payload: %w", err)
			}
		}
		if stateFlag != "" {
			if err := json.Unmarshal([]byte(stateFlag), &opts.State); err != nil {
				return fmt.Errorf("parsing --state: %w", err)
			}
		}

		driver := eval.NewWithOptions(env, opts)
		result, err := driver.Evaluate(context.Background(), &doc)
		if err != nil {
			return err
		}
		fmt.Print(result.Output)
		for _, diag := range result.Diagnostics {
			fmt.Fprintln(os.Stderr, "warning:", diag)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&payloadFlag, "payload", "", "JSON object bound as the `@payload` input")
	runCmd.Flags().StringVar(&stateFlag, "state", "", "JSON object bound as the `@state` input")
}
