package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mender/internal/config"
	"github.com/ShayCichocki/mender/internal/intent"
	"github.com/ShayCichocki/mender/internal/orchestrator"
	"github.com/ShayCichocki/mender/internal/state"
)

// errTestsFailed makes the process exit non-zero after the summary is shown.
var errTestsFailed = errors.New("tests failed")

var (
	runFilter      string
	runParallel    int
	runDryRun      bool
	runWatch       bool
	runNoHeal      bool
	runHeaded      bool
	runHTML        string
	runInstruction string
	runURL         string
)

var runCmd = &cobra.Command{
	Use:   "run [intents.yaml]",
	Short: "Decompose and run browser test intents",
	Long: `Run every test in an intents file, or a single --instruction.

Each test is decomposed into browser commands against its start page, then
the tests run in dependency order. A failing test is repaired with the model
and retried up to heal.max_attempts times; tests depending on a failed test
are reported as blocked.

  --filter    Run only tests whose names match a glob (dependencies included)
  --dry-run   Check commands against a static page (--html) instead of a browser
  --watch     Re-run whenever the intents file changes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIntents,
}

func init() {
	runCmd.Flags().StringVarP(&runFilter, "filter", "f", "", "Glob matched against test names")
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Independent tests to run at once (default runner.max_parallel)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Run against a static page without a browser")
	runCmd.Flags().StringVar(&runHTML, "html", "", "HTML file served as the page in --dry-run")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Re-run when the intents file changes")
	runCmd.Flags().BoolVar(&runNoHeal, "no-heal", false, "Disable self-healing")
	runCmd.Flags().BoolVar(&runHeaded, "headed", false, "Show the browser window")
	runCmd.Flags().StringVarP(&runInstruction, "instruction", "i", "", "Run a single instruction instead of a file")
	runCmd.Flags().StringVar(&runURL, "url", "", "Start URL for --instruction")
}

func runIntents(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && runInstruction == "" {
		return errors.New("an intents file or --instruction is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	w := cmd.OutOrStdout()
	once := func(ctx context.Context) error {
		f, err := loadIntents(args)
		if err != nil {
			return err
		}
		return runOnce(ctx, w, cfg, root, f)
	}

	if runWatch && len(args) == 1 {
		return watchAndRun(ctx, w, args[0], once)
	}
	return once(ctx)
}

func loadIntents(args []string) (*intent.File, error) {
	var (
		f   *intent.File
		err error
	)
	if len(args) == 1 {
		f, err = intent.Load(args[0])
	} else {
		f = &intent.File{
			Name:    "instruction",
			BaseURL: runURL,
			Tests:   []intent.Test{{Name: "instruction", Instruction: runInstruction}},
		}
		err = f.Validate()
	}
	if err != nil {
		return nil, err
	}
	return f.Filter(runFilter)
}

// runOnce decomposes and runs f, recording the run in the history store.
func runOnce(ctx context.Context, w io.Writer, cfg *config.Config, root string, f *intent.File) error {
	logger := newLogger(cfg, root)
	defer logger.Close()

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	exec, closeExec, err := newExecutor(ctx, cfg, root, f)
	if err != nil {
		return err
	}
	defer closeExec()

	store, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	run := &state.Run{
		ID:        uuid.NewString(),
		Name:      f.Name,
		Source:    f.Path,
		StartedAt: time.Now(),
		Status:    state.RunRunning,
	}
	if store != nil {
		if err := store.CreateRun(run); err != nil {
			return err
		}
		recordCosts(gw, store, run.ID)
	}
	logger.Log("run %s: %d tests from %s", run.ID, len(f.Tests), f.Path)

	dec := newDecomposer(cfg, gw, exec, logger)
	if cfg.Decompose.Iterative {
		for i := range f.Tests {
			f.Tests[i].Iterative = true
		}
	}
	subtasks, err := buildSubtasks(ctx, w, f, dec, exec, cfg.Decompose.MaxIterations)
	if err != nil {
		finishRun(store, run, nil, err)
		return err
	}

	parallel := cfg.Runner.MaxParallel
	if runParallel > 0 {
		parallel = runParallel
	}
	if parallel > 1 && !runDryRun {
		printStatus(w, "⚠", "browser runs share one page; running sequentially", color.FgYellow)
		parallel = 1
	}

	opts := []orchestrator.RunnerOption{
		orchestrator.WithMaxParallel(parallel),
		orchestrator.WithLogger(logger),
		orchestrator.WithOnFinish(func(o orchestrator.Outcome) {
			printOutcome(w, o)
			if store != nil {
				if err := store.SaveSubtask(state.NewSubtaskRecord(run.ID, o.Subtask, o.HealAttempts)); err != nil {
					log.Printf("[mender] WARNING: %v", err)
				}
			}
		}),
	}
	if cfg.Heal.Enabled && !runNoHeal {
		opts = append(opts, orchestrator.WithHealer(newHealer(cfg, gw, exec, logger)))
	}

	report, err := orchestrator.New(exec, opts...).Run(ctx, subtasks)
	finishRun(store, run, report, err)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, renderSummary(f.Name, report, gw.Costs().Total()))
	if !report.Success() {
		return errTestsFailed
	}
	return nil
}

// finishRun stores the final status of a run.
func finishRun(store *state.DB, run *state.Run, report *orchestrator.Report, runErr error) {
	if store == nil {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	switch {
	case errors.Is(runErr, context.Canceled):
		run.Status = state.RunCanceled
	case runErr != nil || report == nil || !report.Success():
		run.Status = state.RunFailed
	default:
		run.Status = state.RunPassed
	}
	if report != nil {
		run.Completed, run.Failed, run.Blocked, run.Healed = report.Completed, report.Failed, report.Blocked, report.Healed
	}
	if err := store.UpdateRun(run); err != nil {
		log.Printf("[mender] WARNING: %v", err)
	}
}

// newExecutor launches the browser, or serves --html for dry runs.
func newExecutor(ctx context.Context, cfg *config.Config, root string, f *intent.File) (executor, func(), error) {
	if runDryRun {
		start := f.BaseURL
		if len(f.Tests) > 0 {
			if u, err := f.StartURL(f.Tests[0]); err == nil {
				start = u
			}
		}
		exec, err := newStaticExecutor(runHTML, start)
		if err != nil {
			return nil, nil, err
		}
		return exec, func() {}, nil
	}

	driver := newDriver(cfg, root, runHeaded)
	if err := driver.Launch(ctx); err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}
	return driver, func() {
		if err := driver.Close(); err != nil {
			log.Printf("[mender] WARNING: close browser: %v", err)
		}
	}, nil
}
