package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/mender/internal/orchestrator"
	"github.com/ShayCichocki/mender/pkg/models"
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printOutcome prints one finished subtask.
func printOutcome(w io.Writer, o orchestrator.Outcome) {
	st := o.Subtask
	switch o.Status {
	case models.TaskStatusCompleted:
		msg := st.ID
		if o.Healed {
			msg += color.YellowString(" (healed after %d attempts)", o.HealAttempts)
		}
		if st.Result != nil && st.Result.Duration > 0 {
			msg += color.HiBlackString(" %s", st.Result.Duration.Round(time.Millisecond))
		}
		printStatus(w, "✓", msg, color.FgGreen)
	case models.TaskStatusBlocked:
		printStatus(w, "○", fmt.Sprintf("%s %s", st.ID, color.HiBlackString(resultError(st))), color.FgYellow)
	default:
		printStatus(w, "✗", st.ID, color.FgRed)
		if errText := resultError(st); errText != "" {
			fmt.Fprintf(w, "    %s\n", errText)
		}
		for _, a := range o.History {
			fmt.Fprintf(w, "    %s\n", color.HiBlackString("attempt %d: command %d (%s): %s", a.Number, a.CommandIndex+1, a.Category, a.Error))
		}
		if st.Result != nil {
			for _, shot := range st.Result.Screenshots {
				fmt.Fprintf(w, "    screenshot: %s\n", shot)
			}
		}
	}
}

func resultError(st *models.Subtask) string {
	if st.Result == nil {
		return ""
	}
	return st.Result.Error
}

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10)

	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// renderSummary renders the end-of-run box.
func renderSummary(name string, report *orchestrator.Report, cost float64) string {
	title := passStyle.Render("PASSED")
	border := lipgloss.Color("42")
	if !report.Success() {
		title = failStyle.Render("FAILED")
		border = lipgloss.Color("196")
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	lines := []string{
		title + " " + name,
		"",
		row("passed", fmt.Sprintf("%d/%d", report.Completed, report.Total())),
	}
	if report.Failed > 0 {
		lines = append(lines, row("failed", failStyle.Render(fmt.Sprint(report.Failed))))
	}
	if report.Blocked > 0 {
		lines = append(lines, row("blocked", warnStyle.Render(fmt.Sprint(report.Blocked))))
	}
	if report.Healed > 0 {
		lines = append(lines, row("healed", warnStyle.Render(fmt.Sprint(report.Healed))))
	}
	lines = append(lines,
		row("duration", report.Duration.Round(time.Millisecond).String()),
		row("cost", fmt.Sprintf("$%.4f", cost)),
	)

	return summaryBox.BorderForeground(border).Render(strings.Join(lines, "\n"))
}
