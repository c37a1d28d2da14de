package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a plan that is pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.orch.ApprovePlan(cmd.Context(), args[0], subjectID())
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Plan %s approved by %s", plan.PlanID, subjectID()), green)
		fmt.Printf("Run with: stepwise run %s\n", plan.PlanID)
		return nil
	},
}
