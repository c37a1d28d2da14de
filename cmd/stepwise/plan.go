package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/graph"
	"github.com/ShayCichocki/stepwise/internal/orchestrator"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

var (
	planCapabilities []string
	planApprove      bool
)

var planCmd = &cobra.Command{
	Use:   "plan <task>",
	Short: "Decompose a task into an execution plan",
	Long: `Ask the planning oracle for a plan, layer it, assess its risk and
persist it.

Plans whose risk is above low wait for 'stepwise approve'. When
--capabilities names the capability set you expect, a workflow template
saved from an earlier fully successful plan is reused instead of calling
the oracle.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCmd,
}

func init() {
	planCmd.Flags().StringSliceVar(&planCapabilities, "capabilities", nil, "Expected capability ids; reuses a matching workflow template")
	planCmd.Flags().BoolVar(&planApprove, "approve", false, "Approve the plan immediately if it needs approval")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{needOracle: true})
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.orch.AnalyzeTaskWithOptions(ctx, args[0], subjectID(), orchestrator.AnalyzeOptions{Capabilities: planCapabilities})
	var cycle *graph.CyclicDependencyError
	if err != nil && !errors.As(err, &cycle) {
		return err
	}

	if planApprove && plan.Status == models.PlanPendingApproval && cycle == nil {
		if plan, err = a.orch.ApprovePlan(ctx, plan.PlanID, subjectID()); err != nil {
			return err
		}
	}

	printPlan(plan)
	fmt.Println()
	switch {
	case cycle != nil:
		printStatus("✗", fmt.Sprintf("Steps %v form a dependency cycle; the plan cannot be approved", cycle.Remaining), red)
	case plan.Status == models.PlanPendingApproval:
		fmt.Printf("Approve with: stepwise approve %s\n", plan.PlanID)
	case len(plan.Steps) > 0:
		fmt.Printf("Run with: stepwise run %s\n", plan.PlanID)
	}
	return nil
}
