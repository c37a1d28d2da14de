package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ShayCichocki/stepwise/internal/orchestrator"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func printStatus(symbol, message string, c *color.Color) {
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// colorStatus renders plan, step and run statuses in a consistent palette.
// The status vocabularies share names, so one case covers all of them.
func colorStatus(status string) string {
	switch status {
	case string(models.StepCompleted), string(models.PlanApproved):
		return green.Sprint(status)
	case string(models.StepFailed):
		return red.Sprint(status)
	case string(models.StepSkipped), string(models.PlanPendingApproval), string(models.RunPaused), string(models.ResultPartial):
		return yellow.Sprint(status)
	default:
		return status
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printPlan(plan *models.ExecutionPlan) {
	fmt.Printf("Plan %s  %s\n", plan.PlanID, colorStatus(string(plan.Status)))
	fmt.Printf("  Task: %s\n", plan.TaskDescription)
	fmt.Printf("  Risk: %s  Approval required: %t  Estimated: %s\n",
		plan.RiskLevel, plan.ApprovalRequired, formatDuration(time.Duration(plan.EstimatedDurationMs)*time.Millisecond))
	if plan.ParentPlanID != "" {
		fmt.Printf("  Extends: %s\n", plan.ParentPlanID)
	}
	if len(plan.Layers) > 0 {
		layers := make([]string, len(plan.Layers))
		for i, l := range plan.Layers {
			layers[i] = fmt.Sprint(l)
		}
		fmt.Printf("  Layers: %s\n", strings.Join(layers, " -> "))
	}
	if plan.ReasoningTrace != "" {
		fmt.Printf("  Reasoning: %s\n", faint.Sprint(plan.ReasoningTrace))
	}
	if len(plan.Steps) == 0 {
		return
	}

	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Capability", "Depends on", "Sensitivity", "Executor", "Status"})
	for _, s := range plan.Steps {
		tw.AppendRow(table.Row{s.StepNumber, s.CapabilityID, joinInts(s.DependsOn), s.Sensitivity, s.AssignedExecutorID, colorStatus(string(s.Status))})
	}
	tw.Render()
}

func printEntries(entries []models.WorkingMemoryEntry) {
	if len(entries) == 0 {
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Capability", "Status", "Summary"})
	for _, e := range entries {
		status := colorStatus(string(e.Status))
		if e.Escalated {
			status += yellow.Sprint(" (escalated)")
		}
		tw.AppendRow(table.Row{e.StepNumber, e.CapabilityID, status, e.Summary})
	}
	tw.Render()
}

func printResult(result *models.PlanResult) {
	switch {
	case result.Cancelled:
		printStatus("■", fmt.Sprintf("Plan %s cancelled after %d steps", result.PlanID, result.StepsCompleted), yellow)
	case result.Status == models.ResultCompleted:
		printStatus("✓", fmt.Sprintf("Plan %s completed", result.PlanID), green)
	case result.Status == models.ResultPartial:
		printStatus("⚠", fmt.Sprintf("Plan %s partially completed", result.PlanID), yellow)
	default:
		printStatus("✗", fmt.Sprintf("Plan %s failed", result.PlanID), red)
	}
	fmt.Printf("  Steps: %d completed, %d failed, %d skipped in %s\n",
		result.StepsCompleted, result.StepsFailed, result.StepsSkipped,
		formatDuration(time.Duration(result.TotalExecutionMs)*time.Millisecond))
	if len(result.Escalations) > 0 {
		fmt.Printf("  Escalated steps: %s\n", joinInts(result.Escalations))
	}
}

// consoleSink prints step progress as it happens.
type consoleSink struct{}

func (consoleSink) Name() string { return "console" }

func (consoleSink) Deliver(_ context.Context, ev orchestrator.Event) error {
	switch ev.Type {
	case orchestrator.EventStepStarted:
		fmt.Printf("%s step %d %s\n", faint.Sprint("→"), ev.StepNumber, ev.CapabilityID)
	case orchestrator.EventStepCompleted:
		symbol, c := "✓", green
		switch ev.Status {
		case string(models.StepFailed):
			symbol, c = "✗", red
		case string(models.StepSkipped):
			symbol, c = "↷", yellow
		}
		printStatus(symbol, fmt.Sprintf("step %d %s: %s", ev.StepNumber, ev.CapabilityID, ev.Message), c)
	case orchestrator.EventLayerProgress:
		fmt.Println(faint.Sprintf("  %d/%d steps", ev.Completed, ev.Total))
	}
	return nil
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
