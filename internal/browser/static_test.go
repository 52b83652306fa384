package browser

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/mender/pkg/models"
)

func cmd(t *testing.T, action models.ActionType, strategy models.Strategy, value string, params map[string]string) models.Command {
	t.Helper()
	var sel *models.Selector
	if strategy != "" {
		s, err := models.NewSelector(strategy, value)
		if err != nil {
			t.Fatal(err)
		}
		sel = &s
	}
	c, err := models.NewCommand(action, params, sel)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	return c
}

func TestStaticExecutor_Execute(t *testing.T) {
	exec := &StaticExecutor{Page: StaticPage{Content: loginPage, PageURL: "https://example.com/login"}}
	ctx := context.Background()

	tests := []struct {
		name    string
		command models.Command
		success bool
		errPart string
	}{
		{"unique click", cmd(t, models.ActionClick, models.StrategyTestID, "login-submit", nil), true, ""},
		{"ambiguous click", cmd(t, models.ActionClick, models.StrategyCSS, ".btn", nil), false, "matches 3 elements"},
		{"missing fill", cmd(t, models.ActionFill, models.StrategyCSS, "#nope", map[string]string{"value": "x"}), false, msgNotFound},
		{"fill", cmd(t, models.ActionFill, models.StrategyCSS, "#email", map[string]string{"value": "a@b.com"}), true, ""},
		{"assert exists with many", cmd(t, models.ActionAssertExists, models.StrategyCSS, ".btn", nil), true, ""},
		{"assert not exists", cmd(t, models.ActionAssertNotExists, models.StrategyCSS, ".error", nil), true, ""},
		{"assert not exists fails", cmd(t, models.ActionAssertNotExists, models.StrategyCSS, "#status", nil), false, "expected none"},
		{"assert text", cmd(t, models.ActionAssertText, models.StrategyCSS, "#status", map[string]string{"value": "Ready"}), true, ""},
		{"assert text mismatch", cmd(t, models.ActionAssertText, models.StrategyCSS, "#status", map[string]string{"value": "Done"}), false, "assertion failed"},
		{"assert url", cmd(t, models.ActionAssertURL, "", "", map[string]string{"url": "/login"}), true, ""},
		{"assert url mismatch", cmd(t, models.ActionAssertURL, "", "", map[string]string{"url": "/dashboard"}), false, "assertion failed"},
		{"xpath unknown passes", cmd(t, models.ActionClick, models.StrategyXPath, "//button", nil), true, ""},
		{"navigate", cmd(t, models.ActionNavigate, "", "", map[string]string{"url": "https://example.com"}), true, ""},
		{"noop", models.NoopCommand(), true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := exec.Execute(ctx, tt.command)
			if r.Success != tt.success {
				t.Fatalf("Success = %v, want %v (error %q)", r.Success, tt.success, r.Error)
			}
			if tt.errPart != "" && !strings.Contains(r.Error, tt.errPart) {
				t.Errorf("Error = %q, want it to contain %q", r.Error, tt.errPart)
			}
			if r.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestStaticExecutor_ExecuteAllStopsAtFirstFailure(t *testing.T) {
	exec := &StaticExecutor{Page: StaticPage{Content: loginPage}}
	cmds := []models.Command{
		cmd(t, models.ActionFill, models.StrategyCSS, "#email", map[string]string{"value": "a@b.com"}),
		cmd(t, models.ActionClick, models.StrategyCSS, "button", nil),
		cmd(t, models.ActionClick, models.StrategyTestID, "login-submit", nil),
	}

	results := exec.ExecuteAll(context.Background(), cmds)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if idx := models.FirstFailure(results); idx != 1 {
		t.Errorf("FirstFailure = %d, want 1", idx)
	}
	if results[1].Metadata["command_index"] != "1" || results[1].Metadata["command"] != "click css=button" {
		t.Errorf("Metadata = %v", results[1].Metadata)
	}
}

func TestExecuteAll_CancelledContext(t *testing.T) {
	exec := &StaticExecutor{Page: StaticPage{Content: loginPage}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := exec.ExecuteAll(ctx, []models.Command{models.NoopCommand(), models.NoopCommand()})
	if len(results) != 1 || results[0].Success {
		t.Errorf("results = %+v, want a single failure", results)
	}
}

func TestURLMatches(t *testing.T) {
	tests := []struct {
		actual, expected string
		want             bool
	}{
		{"https://example.com/login", "https://example.com/login", true},
		{"https://example.com/login/", "https://example.com/login", true},
		{"https://example.com/login", "/login", true},
		{"https://example.com/login", "https://example.com/home", false},
		{"https://example.com/login", "/home", false},
		{"https://example.com/login", "", false},
	}
	for _, tt := range tests {
		if got := urlMatches(tt.actual, tt.expected); got != tt.want {
			t.Errorf("urlMatches(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
		}
	}
}

func TestSleep(t *testing.T) {
	if err := sleep(context.Background(), "bogus"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := sleep(context.Background(), "0"); err != nil {
		t.Errorf("sleep(0) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, "5000"); err == nil {
		t.Error("sleep should return the context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep ignored cancellation")
	}
}

func TestDriver_NotLaunched(t *testing.T) {
	d := NewDriver(DriverConfig{})
	r := d.Execute(context.Background(), models.NoopCommand())
	if r.Success || !strings.Contains(r.Error, ErrNotLaunched.Error()) {
		t.Errorf("Execute() before Launch = %+v", r)
	}
	if _, err := d.HTML(context.Background()); err != ErrNotLaunched {
		t.Errorf("HTML() error = %v", err)
	}
	if d.URL() != "" {
		t.Errorf("URL() = %q", d.URL())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() on unlaunched driver = %v", err)
	}
}
