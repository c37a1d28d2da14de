package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stepwise/internal/learning"
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Show what past plans taught: capability outcomes, trust and templates",
	Long: `Show the outcome history recorded after every finished plan:

  - per-capability success tallies across all subjects
  - per-subject trust records used by the approval gate and executor scoring
  - workflow templates saved from fully successful plans`,
	Args: cobra.NoArgs,
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

		store, err := learning.NewOutcomeStore(learning.WorkspaceDBPath(flagWorkspace))
		if err != nil {
			return fmt.Errorf("open outcome store: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate outcome store: %w", err)
		}

		tallies, err := store.ListTallies()
		if err != nil {
			return err
		}
		fmt.Println("Capability outcomes:")
		if len(tallies) == 0 {
			fmt.Println("  none yet")
		} else {
			tw := newTable()
			tw.AppendHeader(table.Row{"Capability", "Successes", "Failures", "Rate", "Last used"})
			for _, t := range tallies {
				tw.AppendRow(table.Row{t.CapabilityID, t.Successes, t.Failures, fmt.Sprintf("%.0f%%", t.SuccessRate()*100), t.LastUsedAt.Format(time.DateTime)})
			}
			tw.Render()
		}

		records, err := db.ListTrustRecords(subjectID())
		if err != nil {
			return err
		}
		fmt.Printf("\nTrust for %s:\n", subjectID())
		if len(records) == 0 {
			fmt.Println("  none yet")
		} else {
			tw := newTable()
			tw.AppendHeader(table.Row{"Capability", "Successes", "Failures", "Rate"})
			for _, r := range records {
				rate := "-"
				if v, ok := r.SuccessRate(); ok {
					rate = fmt.Sprintf("%.0f%%", v*100)
				}
				tw.AppendRow(table.Row{r.CapabilityID, r.Successes, r.Failures, rate})
			}
			tw.Render()
		}

		templates, err := store.ListTemplates()
		if err != nil {
			return err
		}
		fmt.Println("\nWorkflow templates:")
		if len(templates) == 0 {
			fmt.Println("  none yet")
			return nil
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Capabilities", "Steps", "Layers", "Uses", "Created"})
		for _, t := range templates {
			tw.AppendRow(table.Row{strings.Join(t.CapabilityIDs, ","), len(t.Steps), len(t.Layers), t.UseCount, t.CreatedAt.Format(time.DateTime)})
		}
		tw.Render()
		fmt.Println("Reuse one with: stepwise plan --capabilities <ids> <task>")
		return nil
	},
}
