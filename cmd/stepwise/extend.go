package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/graph"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

var extendCmd = &cobra.Command{
	Use:   "extend <plan-id> <request>",
	Short: "Plan a follow-up request on top of a finished plan",
	Long: `Plan a follow-up request that sees the results of a completed or
failed plan. The new plan records the old one as its parent.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{needOracle: true})
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.orch.ExtendPlan(cmd.Context(), args[0], args[1], subjectID())
		var cycle *graph.CyclicDependencyError
		if err != nil && !errors.As(err, &cycle) {
			return err
		}

		printPlan(plan)
		fmt.Println()
		switch {
		case cycle != nil:
			printStatus("✗", fmt.Sprintf("Steps %v form a dependency cycle", cycle.Remaining), red)
		case plan.Status == models.PlanPendingApproval:
			fmt.Printf("Approve with: stepwise approve %s\n", plan.PlanID)
		case len(plan.Steps) > 0:
			fmt.Printf("Run with: stepwise run %s\n", plan.PlanID)
		}
		return nil
	},
}
