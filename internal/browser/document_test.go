package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/ShayCichocki/mender/pkg/models"
)

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Sign in</title><script>var x = "Log in";</script></head>
<body>
  <nav>
    <a href="/">Home</a>
    <a href="/pricing">Pricing</a>
    <button class="btn">Menu</button>
  </nav>
  <form id="login-form">
    <label for="email">Email</label>
    <input id="email" name="email" type="email" placeholder="you@example.com">
    <label>Password <input name="password" type="password"></label>
    <button class="btn" type="submit" data-testid="login-submit">Log in</button>
    <button class="btn" type="button" aria-label="Show password">Show</button>
  </form>
  <div id="status" class="msg">Ready</div>
</body>
</html>`

func mustDocument(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := ParseDocument(raw)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	return doc
}

func TestDocument_CountPair(t *testing.T) {
	doc := mustDocument(t, loginPage)

	tests := []struct {
		strategy  models.Strategy
		value     string
		wantCount int
		wantKnown bool
	}{
		{models.StrategyCSS, "button", 3, true},
		{models.StrategyCSS, ".btn", 3, true},
		{models.StrategyCSS, "#email", 1, true},
		{models.StrategyCSS, `form button[type="submit"]`, 1, true},
		{models.StrategyCSS, "#missing", 0, true},
		{models.StrategyCSS, `button:has-text("Log in")`, 0, false},
		{models.StrategyXPath, "//button", 0, false},
		{models.StrategyTestID, "login-submit", 1, true},
		{models.StrategyTestID, "login", 0, true},
		{models.StrategyPlaceholder, "you@example", 1, true},
		{models.StrategyText, "Log in", 1, true},
		{models.StrategyText, "log IN", 1, true},
		{models.StrategyText, `"Log"`, 0, true},
		{models.StrategyText, "Pricing", 1, true},
		{models.StrategyRole, "button", 3, true},
		{models.StrategyRole, `button[name="Log in"]`, 1, true},
		{models.StrategyRole, `button[name="Show password"]`, 1, true},
		{models.StrategyRole, "link", 2, true},
		{models.StrategyRole, "textbox", 2, true},
		{models.StrategyRole, "[broken", 0, false},
		{models.StrategyLabel, "Email", 1, true},
		{models.StrategyLabel, "Password", 2, true},
		{models.StrategyLabel, "Nope", 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy)+"="+tt.value, func(t *testing.T) {
			n, known := doc.CountPair(tt.strategy, tt.value)
			if known != tt.wantKnown {
				t.Fatalf("known = %v, want %v", known, tt.wantKnown)
			}
			if n != tt.wantCount {
				t.Errorf("count = %d, want %d", n, tt.wantCount)
			}
		})
	}
}

func TestCheckCSS(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{`a[href="/login"]`, false},
		{`input[placeholder="Your email"]`, false},
		{"#email", false},
		{`button:has-text("Log in")`, false},
		{"form >> text=Submit", false},
		{"a[href=/login]", true},
		{"input[placeholder=Your email]", true},
		{"#a[", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if err := CheckCSS(tt.value); (err != nil) != tt.wantErr {
				t.Errorf("CheckCSS() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocument_Resolve(t *testing.T) {
	doc := mustDocument(t, loginPage)

	sel, err := models.NewSelector(models.StrategyCSS, "#nope",
		models.SelectorFallback{Strategy: models.StrategyTestID, Value: "missing"},
		models.SelectorFallback{Strategy: models.StrategyTestID, Value: "login-submit"},
	)
	if err != nil {
		t.Fatal(err)
	}
	match, n, ok := doc.Resolve(sel)
	if !ok || n != 1 || match.Value != "login-submit" {
		t.Errorf("Resolve() = %+v, %d, %v", match, n, ok)
	}

	sel, _ = models.NewSelector(models.StrategyCSS, "#nope")
	if _, _, ok := doc.Resolve(sel); ok {
		t.Error("Resolve() should fail when nothing matches")
	}
}

func TestDocument_Selectors(t *testing.T) {
	doc := mustDocument(t, loginPage)

	got := doc.Selectors(0)
	want := map[string]bool{
		`testid=login-submit`:        true,
		`css=#email`:                 true,
		`css=input[name="password"]`: true,
		`label=Show password`:        true,
		`placeholder=you@example.com`: true,
		`css=#status`:                true,
	}
	seen := make(map[string]bool)
	for _, s := range got {
		key := string(s.Strategy) + "=" + s.Value
		seen[key] = true
		if n, _ := doc.CountPair(s.Strategy, s.Value); n != 1 {
			t.Errorf("%s is not unique (%d matches)", key, n)
		}
	}
	for key := range want {
		if !seen[key] {
			t.Errorf("Selectors() missing %s; got %v", key, got)
		}
	}

	if limited := doc.Selectors(2); len(limited) != 2 {
		t.Errorf("Selectors(2) returned %d", len(limited))
	}
}

func TestParseRoleSelector(t *testing.T) {
	tests := []struct {
		in, role, name string
	}{
		{"button", "button", ""},
		{"Button", "button", ""},
		{`button[name="Sign in"]`, "button", "Sign in"},
		{`link[name='Home']`, "link", "Home"},
		{`textbox [ name = Email ]`, "textbox", "Email"},
		{`button name`, "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		role, name := parseRoleSelector(tt.in)
		if role != tt.role || name != tt.name {
			t.Errorf("parseRoleSelector(%q) = %q, %q; want %q, %q", tt.in, role, name, tt.role, tt.name)
		}
	}
}

func TestCapture(t *testing.T) {
	page := StaticPage{Content: loginPage, PageURL: "https://example.com/login"}
	snap, doc, err := Capture(context.Background(), page, 0)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if snap.Title != "Sign in" || strings.Contains(snap.HTML, "var x") {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if n, _ := doc.CountPair(models.StrategyCSS, "form"); n != 1 {
		t.Errorf("document form count = %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Capture(ctx, page, 0); err == nil {
		t.Error("Capture() should fail on a cancelled context")
	}
}
