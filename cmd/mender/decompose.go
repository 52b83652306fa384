package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/internal/intent"
	"github.com/ShayCichocki/mender/pkg/models"
)

var (
	decURL           string
	decHTML          string
	decIterative     bool
	decMaxIterations int
	decPlanOnly      bool
	decSave          string
	decName          string
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose <instruction>",
	Short: "Print the browser commands for an instruction",
	Long: `Decompose a natural-language instruction into DSL commands without running them.

The page the commands target comes from --url (opened in the browser) or
--html (a saved page). Without either, commands are generated blind.

Use --save to append the result to an intents file as a scripted test, so
later runs skip decomposition.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecompose,
}

func init() {
	decomposeCmd.Flags().StringVar(&decURL, "url", "", "Open this page before decomposing")
	decomposeCmd.Flags().StringVar(&decHTML, "html", "", "Use this HTML file as the page")
	decomposeCmd.Flags().BoolVar(&decIterative, "iterative", false, "Generate one command at a time")
	decomposeCmd.Flags().IntVar(&decMaxIterations, "max-iterations", 0, "Cap for --iterative (default decompose.max_iterations)")
	decomposeCmd.Flags().BoolVar(&decPlanOnly, "plan", false, "Print only the planned steps")
	decomposeCmd.Flags().StringVar(&decSave, "save", "", "Append the commands to this intents file")
	decomposeCmd.Flags().StringVar(&decName, "name", "", "Test name used with --save")
}

func runDecompose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	instruction := strings.Join(args, " ")
	if decSave != "" && decName == "" {
		return errors.New("--save requires --name")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	logger := newLogger(cfg, root)
	defer logger.Close()

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		recordCosts(gw, store, "")
	}

	var pages browser.PageSource
	switch {
	case decHTML != "":
		exec, err := newStaticExecutor(decHTML, decURL)
		if err != nil {
			return err
		}
		pages = exec
	case decURL != "":
		driver := newDriver(cfg, root, false)
		if err := driver.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer driver.Close()
		nav := models.MustCommand(models.ActionNavigate, map[string]string{models.ParamURL: decURL}, nil)
		if res := driver.Execute(ctx, nav); !res.Success {
			return fmt.Errorf("open %s: %s", decURL, res.Error)
		}
		pages = driver
	}

	dec := newDecomposer(cfg, gw, pages, logger)
	w := cmd.OutOrStdout()

	if decPlanOnly {
		steps, err := dec.Plan(ctx, instruction)
		if err != nil {
			return err
		}
		for i, s := range steps {
			fmt.Fprintf(w, "%d. %s\n", i+1, s)
		}
		return nil
	}

	var st *models.Subtask
	if decIterative {
		n := decMaxIterations
		if n == 0 {
			n = cfg.Decompose.MaxIterations
		}
		st, err = dec.DecomposeIterative(ctx, instruction, n)
	} else {
		st, err = dec.Decompose(ctx, instruction)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(w, dsl.FormatScript(st.Commands))
	printCost(cmd.ErrOrStderr(), gw.Costs().Total(), gw.Stats().Calls)

	if decSave != "" {
		if err := appendScripted(decSave, decName, instruction, decURL, st.Commands); err != nil {
			return err
		}
		printStatus(cmd.ErrOrStderr(), "✓", fmt.Sprintf("saved %s to %s", decName, decSave), color.FgGreen)
	}
	return nil
}

func printCost(w io.Writer, cost float64, calls int64) {
	fmt.Fprintln(w, color.HiBlackString("%d model calls, $%.4f", calls, cost))
}

// appendScripted adds or replaces a scripted test in an intents file,
// creating the file when it does not exist.
func appendScripted(path, name, instruction, url string, cmds []models.Command) error {
	f, err := intent.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		f, err = &intent.File{}, nil
	}
	if err != nil {
		return err
	}

	t := intent.Test{Name: name, Instruction: instruction, URL: url, Script: dsl.FormatScript(cmds) + "\n"}
	replaced := false
	for i := range f.Tests {
		if f.Tests[i].Name == name {
			t.DependsOn = f.Tests[i].DependsOn
			f.Tests[i] = t
			replaced = true
		}
	}
	if !replaced {
		f.Tests = append(f.Tests, t)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	return intent.Save(f, path)
}
