package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/orchestrator"
	"github.com/ShayCichocki/stepwise/internal/signals"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

var errPlanFailed = errors.New("plan failed")

var runApproveSteps []int

var runCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Execute an approved plan",
	Long: `Execute an approved plan layer by layer.

The run can be controlled from another terminal:
  stepwise signal <run-id> pause
  stepwise signal <run-id> resume
  stepwise signal <run-id> cancel

Ctrl-C cancels cooperatively: running steps finish, no new layer starts,
and the run can be continued later with 'stepwise resume <run-id>'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, appOptions{sinks: []orchestrator.EventSink{consoleSink{}}})
		if err != nil {
			return err
		}
		defer a.Close()
		recoverInterrupted(a.db)

		plan, err := a.orch.GetPlan(args[0])
		if err != nil {
			return err
		}
		restoreGrants(a, plan)

		sup := orchestrator.NewSupervisor(a.orch, a.db)
		handle, err := sup.ExecutePlanAsync(ctx, subjectID(), plan)
		if err != nil {
			if errors.Is(err, orchestrator.ErrPlanNotApproved) && plan.Status == models.PlanPendingApproval {
				return fmt.Errorf("%w: approve it first with 'stepwise approve %s'", err, plan.PlanID)
			}
			return err
		}
		return superviseRun(ctx, a, sup, handle)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id|plan-id>",
	Short: "Continue a cancelled or interrupted run",
	Long: `Continue a run that was cancelled or interrupted. Steps that already
finished are not invoked again.

Given a plan id that has no paused run, the plan is resumed directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, appOptions{sinks: []orchestrator.EventSink{consoleSink{}}})
		if err != nil {
			return err
		}
		defer a.Close()
		recoverInterrupted(a.db)

		run, err := a.db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			plan, err := a.orch.GetPlan(args[0])
			if err != nil {
				return err
			}
			restoreGrants(a, plan)
			result, err := a.orch.ResumePlan(ctx, plan.PlanID, subjectID())
			if err != nil {
				return err
			}
			return reportResult(result)
		}

		plan, err := a.orch.GetPlan(run.PlanID)
		if err != nil {
			return err
		}
		restoreGrants(a, plan)

		sup := orchestrator.NewSupervisor(a.orch, a.db)
		handle, err := sup.ResumeRun(ctx, run.RunID)
		if err != nil {
			return err
		}
		return superviseRun(ctx, a, sup, handle)
	},
}

func init() {
	runCmd.Flags().IntSliceVar(&runApproveSteps, "approve-step", nil, "Approve individual gated steps for this run")
	resumeCmd.Flags().IntSliceVar(&runApproveSteps, "approve-step", nil, "Approve individual gated steps for this run")
}

// restoreGrants re-issues approvals that do not survive the process. A plan
// that required approval and is no longer pending was approved explicitly.
func restoreGrants(a *app, plan *models.ExecutionPlan) {
	if plan.ApprovalRequired && plan.Status != models.PlanPendingApproval {
		a.orch.Grants().GrantAll(plan.PlanID, subjectID())
	}
	for _, n := range runApproveSteps {
		a.orch.ApproveStep(plan.PlanID, n, subjectID())
	}
}

// superviseRun waits for a run while applying signal files and Ctrl-C.
func superviseRun(ctx context.Context, a *app, sup *orchestrator.Supervisor, handle *orchestrator.RunHandle) error {
	defer sup.Shutdown(context.Background())

	fmt.Printf("Run %s started for plan %s\n", handle.RunID, handle.PlanID)

	w, err := signals.NewWatcher(a.workspace, sup)
	if err != nil {
		log.Printf("[stepwise] WARNING: signal files disabled: %v", err)
	} else {
		w.OnSignal = func(sig signals.Signal, err error) {
			if err != nil {
				printStatus("✗", fmt.Sprintf("%s signal for run %s failed: %v", sig.Action, sig.RunID, err), red)
				return
			}
			printStatus("•", fmt.Sprintf("run %s: %s", sig.RunID, sig.Action), yellow)
		}
		w.Scan()
		defer w.Close()
	}

	select {
	case <-handle.Done():
	case <-ctx.Done():
		fmt.Println("\nInterrupt received, letting running steps finish...")
		if err := sup.Cancel(handle.RunID); err != nil && !errors.Is(err, orchestrator.ErrRunNotFound) {
			return err
		}
	}

	result, err := handle.Wait(context.Background())
	if err != nil {
		return err
	}
	if result.Cancelled {
		printResult(result)
		fmt.Printf("Continue with: stepwise resume %s\n", handle.RunID)
		return nil
	}
	return reportResult(result)
}

func reportResult(result *models.PlanResult) error {
	printResult(result)
	if result.Status == models.ResultFailed {
		return errPlanFailed
	}
	return nil
}
