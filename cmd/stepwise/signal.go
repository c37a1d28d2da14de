package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <run-id> <cancel|pause|resume>",
	Short: "Control a run started by 'stepwise run' in another terminal",
	Long: `Write a signal file that the process executing the run picks up.

  cancel  stop after the running steps finish; resumable later
  pause   hold the run before its next layer
  resume  release a paused run`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(signals.ActionCancel), string(signals.ActionPause), string(signals.ActionResume)},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := signals.Action(args[1])
		if err := signals.Send(flagWorkspace, args[0], action); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Sent %s to run %s", action, args[0]), green)
		return nil
	},
}
