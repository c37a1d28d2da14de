package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/orchestrator"
	"github.com/ShayCichocki/stepwise/internal/state"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show plans, runs and step results",
	Long: `Without arguments, lists recent plans and runs.
With a plan id, shows the plan's steps, working memory and follow-up plans.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			return showPlan(db, args[0])
		}
		return showOverview(db)
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent plans to list")
}

func showPlan(db *state.DB, planID string) error {
	plan, err := db.GetPlan(planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("plan %s: %w", planID, orchestrator.ErrPlanNotFound)
	}
	entries, err := db.ListWorkingMemory(planID)
	if err != nil {
		return err
	}

	printPlan(plan)
	if plan.ActualDurationMs > 0 {
		fmt.Printf("  Took: %s (%d failed, %d skipped)\n",
			formatDuration(time.Duration(plan.ActualDurationMs)*time.Millisecond), plan.StepsFailed, plan.StepsSkipped)
	}
	if len(entries) > 0 {
		fmt.Println("\nWorking memory:")
		printEntries(entries)
	}

	children, err := db.ListChildPlans(planID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		fmt.Println("\nFollow-up plans:")
		for _, c := range children {
			fmt.Printf("  %s  %s  %s\n", c.PlanID, colorStatus(string(c.Status)), c.CreatedAt.Format(time.DateTime))
		}
	}
	return nil
}

func showOverview(db *state.DB) error {
	plans, err := db.ListPlans(nil, statusLimit)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No plans yet. Create one with 'stepwise plan <task>'.")
		return nil
	}

	fmt.Println("Recent plans:")
	tw := newTable()
	tw.AppendHeader(table.Row{"Plan", "Status", "Risk", "Failed/Skipped", "Created", "Task"})
	for _, p := range plans {
		tw.AppendRow(table.Row{
			p.PlanID, colorStatus(string(p.Status)), p.RiskLevel, fmt.Sprintf("%d/%d", p.StepsFailed, p.StepsSkipped),
			formatDuration(time.Since(p.CreatedAt)) + " ago", truncate(p.TaskDescription, 60),
		})
	}
	tw.Render()

	runs, err := db.ListRuns(nil)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println("\nRuns:")
	tw = newTable()
	tw.AppendHeader(table.Row{"Run", "Plan", "Status", "Started", "Error"})
	for i, r := range runs {
		if i == statusLimit {
			break
		}
		tw.AppendRow(table.Row{r.RunID, r.PlanID, colorStatus(string(r.Status)), r.StartedAt.Format(time.DateTime), r.Error})
	}
	tw.Render()

	paused := 0
	for _, r := range runs {
		if r.Status == models.RunPaused {
			paused++
		}
	}
	if paused > 0 {
		fmt.Printf("%d paused run(s); continue one with 'stepwise resume <run-id>'\n", paused)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
