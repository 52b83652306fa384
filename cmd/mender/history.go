package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mender/internal/state"
)

var (
	historyLimit    int
	historyPurge    time.Duration
	historyCommands bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `List recent runs, or show the tests of one run.

Runs are recorded in .mender/history.db (state.db_path overrides it). A run id
prefix is enough to select a run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().DurationVar(&historyPurge, "purge", 0, "Delete runs older than this (e.g. 720h)")
	historyCmd.Flags().BoolVar(&historyCommands, "commands", false, "Print each test's final commands")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if cfg.State.Disabled {
		return fmt.Errorf("run history is disabled (state.disabled)")
	}

	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	w := cmd.OutOrStdout()

	if historyPurge > 0 {
		n, err := db.PurgeOldRuns(historyPurge)
		if err != nil {
			return err
		}
		printStatus(w, "✓", fmt.Sprintf("deleted %d runs older than %s", n, historyPurge), color.FgGreen)
		return nil
	}

	if len(args) == 1 {
		return showRun(w, db, args[0])
	}

	runs, err := db.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded. Run 'mender run <intents.yaml>' to start.")
		return nil
	}
	for _, r := range runs {
		cost, err := db.RunCost(r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, formatRunLine(r, cost))
	}
	if total, err := db.TotalCost(); err == nil {
		fmt.Fprintln(w, color.HiBlackString("total spend $%.4f", total))
	}
	return nil
}

// formatRunLine renders one run in the listing.
func formatRunLine(r state.Run, cost float64) string {
	status := string(r.Status)
	switch r.Status {
	case state.RunPassed:
		status = color.GreenString(status)
	case state.RunFailed:
		status = color.RedString(status)
	case state.RunCanceled, state.RunRunning:
		status = color.YellowString(status)
	}

	duration := "-"
	if r.FinishedAt != nil {
		duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
	}
	counts := fmt.Sprintf("%d passed", r.Completed)
	if r.Failed > 0 {
		counts += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Blocked > 0 {
		counts += fmt.Sprintf(", %d blocked", r.Blocked)
	}
	if r.Healed > 0 {
		counts += fmt.Sprintf(", %d healed", r.Healed)
	}

	return fmt.Sprintf("%s  %s  %-8s  %-20s  %s  %s  $%.4f",
		r.ID[:min(8, len(r.ID))], r.StartedAt.Local().Format("2006-01-02 15:04"), status, r.Name, counts, duration, cost)
}

func showRun(w io.Writer, db *state.DB, id string) error {
	run, err := findRun(db, id)
	if err != nil {
		return err
	}
	cost, err := db.RunCost(run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatRunLine(*run, cost))
	if run.Source != "" {
		fmt.Fprintf(w, "source: %s\n", run.Source)
	}
	fmt.Fprintln(w)

	records, err := db.ListSubtasks(run.ID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		symbol, attr := "✓", color.FgGreen
		switch rec.Status {
		case "failed":
			symbol, attr = "✗", color.FgRed
		case "blocked":
			symbol, attr = "○", color.FgYellow
		}
		line := rec.SubtaskID
		if rec.HealAttempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", rec.HealAttempts)
		}
		printStatus(w, symbol, line, attr)
		if rec.Error != "" {
			fmt.Fprintf(w, "    %s\n", rec.Error)
		}
		if historyCommands {
			for _, l := range strings.Split(rec.Commands, "\n") {
				fmt.Fprintf(w, "    %s\n", color.HiBlackString(l))
			}
		}
	}
	return nil
}

// findRun resolves a full run id or a unique prefix of a recent one.
func findRun(db *state.DB, id string) (*state.Run, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}

	runs, err := db.RecentRuns(1000)
	if err != nil {
		return nil, err
	}
	var match *state.Run
	for i := range runs {
		if strings.HasPrefix(runs[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no run %q", id)
	}
	return match, nil
}
