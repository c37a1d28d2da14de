package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/config"
	"github.com/ShayCichocki/stepwise/internal/signals"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a stepwise workspace",
	Long: `Create the .stepwise directory and starter files in the workspace:

  .stepwise.yaml      project configuration
  capabilities.yaml   command capabilities the planner may use
  policies.yaml       verification policies per capability category

Existing files are kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := flagWorkspace
		fmt.Printf("Initializing stepwise in %s...\n\n", ws)

		for _, dir := range []string{filepath.Join(ws, ".stepwise", "logs"), signals.Dir(ws)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		printStatus("✓", "Created .stepwise directory structure", green)

		files := []struct{ name, content string }{
			{config.ProjectConfigName, projectConfigTemplate},
			{"capabilities.yaml", capabilitiesTemplate},
			{"policies.yaml", policiesTemplate},
		}
		for _, f := range files {
			path := filepath.Join(ws, f.name)
			if _, err := os.Stat(path); err == nil && !initForce {
				printStatus("•", fmt.Sprintf("Kept existing %s", f.name), yellow)
				continue
			}
			if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", f.name, err)
			}
			printStatus("✓", fmt.Sprintf("Created %s", f.name), green)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		db.Close()
		printStatus("✓", "Created state database", green)

		if _, err := cfg.ResolveAPIKey(); err != nil {
			printStatus("⚠", "ANTHROPIC_API_KEY not set (set it, use planner.use_bedrock, or planner.kind: file)", yellow)
		}

		fmt.Println("\nNext steps:")
		fmt.Println("  1. Describe your capabilities in capabilities.yaml")
		fmt.Println("  2. stepwise plan \"your task here\"")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing starter files")
}

const projectConfigTemplate = `# stepwise project configuration
orchestrator:
  max_concurrency: 4
planner:
  kind: anthropic        # or: file
  # plan_file: plans.yaml
  # use_bedrock: true
  # aws_region: us-east-1
capabilities:
  file: capabilities.yaml
verification:
  policies_file: policies.yaml
events:
  log: false
  # nats_url: nats://localhost:4222
approval:
  min_trust_successes: 5
  min_trust_rate: 0.9
`

const capabilitiesTemplate = `# Each command reads a JSON request on stdin:
#   {"plan_id", "step_number", "attempt", "input", "prior", "feedback"}
# and prints either plain text or a JSON object (summary, artifacts, hints, ...).
capabilities:
  - id: echo
    path: util/echo
    description: Echo the JSON request back.
    category: util
    tier: trusted
    sensitivity: public
    command: cat
`

const policiesTemplate = `policies:
  - category: research
    name: research-citations
    rules:
      - field: content
        expect: "matches /\\[\\d+\\]/"
        description: missing citation
        suggestion: cite sources as [n]
`
