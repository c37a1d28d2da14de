package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagWorkspace string
	flagConfig    string
	flagSubject   string
	flagDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "stepwise",
	Short: "Plan and execute capability DAGs",
	Long: `stepwise decomposes a task into a dependency graph of capability
invocations, layers the graph, and executes each layer concurrently.

Steps pass compact working memory to their dependents, outputs are
verified against per-category policies, and every plan, step and run is
persisted so that cancelled or interrupted work can be resumed.

Typical flow:
  stepwise plan "Research competitors and draft a summary"
  stepwise approve <plan-id>       # when the plan needs approval
  stepwise run <plan-id>
  stepwise status <plan-id>
  stepwise extend <plan-id> "Now email it to the team"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		flagWorkspace = ws
		return loadDotEnv(ws)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: user config merged with .stepwise.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagSubject, "subject", "", "Subject the plan runs on behalf of (default: $USER)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", os.Getenv("STEPWISE_DEBUG") != "", "Write the orchestrator debug log under .stepwise/logs")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func resolveWorkspace() (string, error) {
	ws := flagWorkspace
	if ws == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		ws = cwd
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolve workspace %s: %w", ws, err)
	}
	return abs, nil
}

// loadDotEnv loads <workspace>/.env without overriding variables already set.
func loadDotEnv(workspace string) error {
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func subjectID() string {
	if flagSubject != "" {
		return flagSubject
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
