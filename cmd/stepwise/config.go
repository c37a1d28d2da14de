package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, the user config
(~/.config/stepwise/config.yaml), the project's .stepwise.yaml and
STEPWISE_* environment variables.

With a key, prints only that value.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		values := configValues(cfg)

		if len(args) == 1 {
			v, ok := values[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			fmt.Println(v)
			return nil
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, values[k])
		}
		fmt.Println()
		fmt.Printf("user config:    %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("project config: %s\n", p)
		}
		return nil
	},
}

func configValues(cfg *config.Config) map[string]string {
	key, _ := cfg.ResolveAPIKey()
	apiKey := key.Masked()
	if key.Source != config.KeySourceNone && key.Source != config.KeySourceBedrock {
		apiKey += " (" + string(key.Source) + ")"
	}

	return map[string]string{
		"database.path":                     cfg.DatabasePath(flagWorkspace),
		"anthropic.api_key":                 apiKey,
		"orchestrator.max_concurrency":      strconv.Itoa(cfg.Orchestrator.MaxConcurrency),
		"orchestrator.event_buffer":         strconv.Itoa(cfg.Orchestrator.EventBuffer),
		"orchestrator.sink_retries":         strconv.Itoa(cfg.Orchestrator.SinkRetries),
		"orchestrator.retry_backoff":        cfg.Orchestrator.RetryBackoff.String(),
		"orchestrator.working_memory_bytes": strconv.Itoa(cfg.Orchestrator.WorkingMemoryBytes),
		"orchestrator.default_executor":     cfg.Orchestrator.DefaultExecutor,
		"orchestrator.workload_penalty":     strconv.FormatFloat(cfg.Orchestrator.WorkloadPenalty, 'g', -1, 64),
		"planner.kind":                      cfg.Planner.Kind,
		"planner.model":                     cfg.Planner.Model,
		"planner.max_tokens":                strconv.FormatInt(cfg.Planner.MaxTokens, 10),
		"planner.plan_file":                 cfg.Planner.PlanFile,
		"planner.use_bedrock":               strconv.FormatBool(cfg.Planner.UseBedrock),
		"planner.aws_region":                cfg.Planner.AWSRegion,
		"planner.aws_profile":               cfg.Planner.AWSProfile,
		"capabilities.file":                 cfg.Capabilities.File,
		"events.nats_url":                   cfg.Events.NATSURL,
		"events.subject_prefix":             cfg.Events.SubjectPrefix,
		"events.log":                        strconv.FormatBool(cfg.Events.Log),
		"verification.policies_file":        cfg.Verification.PoliciesFile,
		"verification.confidence_floor":     strconv.FormatFloat(cfg.Verification.ConfidenceFloor, 'g', -1, 64),
		"approval.min_trust_successes":      strconv.FormatInt(cfg.Approval.MinTrustSuccesses, 10),
		"approval.min_trust_rate":           strconv.FormatFloat(cfg.Approval.MinTrustRate, 'g', -1, 64),
		"delegation.candidates":             candidateIDs(cfg),
	}
}

func candidateIDs(cfg *config.Config) string {
	candidates := cfg.Candidates()
	if len(candidates) == 0 {
		return "(none, steps run on " + cfg.Orchestrator.DefaultExecutor + ")"
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return strings.Join(ids, ", ")
}
