// Package main implements the mlld CLI: the command-line front end around
// internal/eval's Driver (one rootCmd, one init() wiring global flags and
// subcommands, subcommand logic split across cmd_*.go files).
//
// # File Index
//
//   - main.go    - entry point, rootCmd, global flags, init()
//   - cmd_run.go - runCmd: evaluate a pre-parsed AST document
//   - collab.go  - buildCollaborators(): wires the real OS-backed
//     collaborators plus the registered code runners
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mlld-lang/mlld-sub002/internal/mlconfig"
)

var (
	verbose   bool
	workspace string
	modeFlag  string

	logger *zap.Logger
	cfg    mlconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "mlld",
	Short: "mlld - a scriptable, taint-aware document evaluator",
	Long: `mlld evaluates an already-parsed document AST against a hierarchical
Environment, threading every value through the SecurityDescriptor/taint
model described by its specification.

Parsing is out of scope for this binary: run takes a JSON-encoded AST
document (internal/ast.Document) rather than mlld source text, since the
PEG grammar and parser are an external collaborator this repository never
implements.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose || cfg.Logging.Debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	cfg = mlconfig.Load()
	if modeFlag == "" {
		modeFlag = string(cfg.Mode)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Working directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", string(cfg.Mode), "Document output mode: strict | markdown | xml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mlld build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("mlld (mlld-sub002) dev")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
