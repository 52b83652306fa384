package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ShayCichocki/mender/internal/heal"
	"github.com/ShayCichocki/mender/internal/intent"
	"github.com/ShayCichocki/mender/pkg/models"
)

// planner turns instructions into subtasks. *decompose.Decomposer implements it.
type planner interface {
	Decompose(ctx context.Context, instruction string) (*models.Subtask, error)
	DecomposeIterative(ctx context.Context, instruction string, maxIterations int) (*models.Subtask, error)
}

// buildSubtasks turns every test into a subtask whose id is the test name, so
// depends_on carries over as subtask dependencies. Before an instruction is
// decomposed its start URL is opened, giving the planner the page to look at;
// the navigation is kept as the subtask's first command.
func buildSubtasks(ctx context.Context, w io.Writer, f *intent.File, dec planner, exec heal.Executor, maxIterations int) ([]*models.Subtask, error) {
	subtasks := make([]*models.Subtask, 0, len(f.Tests))
	for _, t := range f.Tests {
		if t.Script != "" {
			st, err := f.Scripted(t)
			if err != nil {
				return nil, err
			}
			subtasks = append(subtasks, st)
			continue
		}

		start, err := f.StartURL(t)
		if err != nil {
			return nil, err
		}
		var prefix []models.Command
		if start != "" {
			nav, err := models.NewCommand(models.ActionNavigate, map[string]string{models.ParamURL: start}, nil)
			if err != nil {
				return nil, fmt.Errorf("test %q: %w", t.Name, err)
			}
			res := exec.ExecuteAll(ctx, []models.Command{nav})
			if len(res) == 0 || !res[0].Success {
				errText := "not executed"
				if len(res) > 0 {
					errText = res[0].Error
				}
				return nil, fmt.Errorf("test %q: open %s: %s", t.Name, start, errText)
			}
			prefix = []models.Command{nav}
		}

		printStatus(w, "…", fmt.Sprintf("decomposing %s", t.Name), color.FgCyan)
		var planned *models.Subtask
		if t.Iterative {
			n := t.MaxIterations
			if n == 0 {
				n = maxIterations
			}
			planned, err = dec.DecomposeIterative(ctx, t.Instruction, n)
		} else {
			planned, err = dec.Decompose(ctx, t.Instruction)
		}
		if err != nil {
			return nil, fmt.Errorf("decompose %q: %w", t.Name, err)
		}

		cmds := planned.Commands
		if len(prefix) > 0 && (len(cmds) == 0 || cmds[0].Action() != models.ActionNavigate) {
			cmds = append(prefix, cmds...)
		}
		st, err := models.NewSubtask(t.Name, t.Instruction, cmds, t.DependsOn...)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, nil
}
