package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/ShayCichocki/mender/pkg/models"
)

// TestIDAttribute is the attribute the testid strategy matches, as in Playwright.
const TestIDAttribute = "data-testid"

// Document is a parsed page used for static selector analysis. Counts are a
// best effort: they ignore visibility and anything rendered by scripts.
type Document struct {
	root *html.Node
}

// ParseDocument parses raw page markup.
func ParseDocument(rawHTML string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// playwrightCSS are Playwright selector extensions that cascadia cannot
// compile but the browser accepts.
var playwrightCSS = []string{
	":has-text(", ":text(", ":text-is(", ":text-matches(", ":visible", ":nth-match(",
	":near(", ":left-of(", ":right-of(", ":above(", ":below(", ">>",
}

// CheckCSS returns the syntax error in a CSS selector, or nil. Selectors
// using Playwright extensions are not checked.
func CheckCSS(value string) error {
	for _, ext := range playwrightCSS {
		if strings.Contains(value, ext) {
			return nil
		}
	}
	if _, err := cascadia.Compile(value); err != nil {
		return err
	}
	return nil
}

// Count returns how many elements the primary (strategy, value) pair of sel
// matches. known is false when the strategy cannot be evaluated statically.
func (d *Document) Count(sel models.Selector) (n int, known bool) {
	return d.CountPair(sel.Strategy, sel.Value)
}

// CountPair counts matches for a single strategy and value.
func (d *Document) CountPair(strategy models.Strategy, value string) (int, bool) {
	nodes, known := d.match(strategy, value)
	return len(nodes), known
}

func (d *Document) nodes(c models.SelectorFallback) []*html.Node {
	nodes, _ := d.match(c.Strategy, c.Value)
	return nodes
}

func (d *Document) match(strategy models.Strategy, value string) ([]*html.Node, bool) {
	switch strategy {
	case models.StrategyCSS:
		compiled, err := cascadia.Compile(value)
		if err != nil {
			// Playwright extensions, or invalid CSS; see CheckCSS
			return nil, false
		}
		return compiled.MatchAll(d.root), true
	case models.StrategyTestID:
		return d.collect(func(n *html.Node) bool {
			v, ok := attr(n, TestIDAttribute)
			return ok && v == value
		}), true
	case models.StrategyPlaceholder:
		needle := normalize(value)
		return d.collect(func(n *html.Node) bool {
			v, ok := attr(n, "placeholder")
			return ok && strings.Contains(normalize(v), needle)
		}), true
	case models.StrategyText:
		return d.matchText(value), true
	case models.StrategyRole:
		role, name := parseRoleSelector(value)
		if role == "" {
			return nil, false
		}
		return d.matchRole(role, name), true
	case models.StrategyLabel:
		return d.matchLabel(value), true
	default:
		return nil, false
	}
}

// Resolve returns the first candidate of sel (primary, then fallbacks) that
// matches at least one element, with its count. ok is false when no candidate
// matches or when a candidate's count is unknown before any match is found.
func (d *Document) Resolve(sel models.Selector) (models.SelectorFallback, int, bool) {
	for _, c := range sel.Candidates() {
		n, known := d.CountPair(c.Strategy, c.Value)
		if !known {
			return c, 0, false
		}
		if n > 0 {
			return c, n, true
		}
	}
	return models.SelectorFallback{}, 0, false
}

// Selectors lists selectors that uniquely identify an element, in document
// order. limit <= 0 returns all of them.
func (d *Document) Selectors(limit int) []models.SelectorFallback {
	var (
		out  []models.SelectorFallback
		seen = make(map[models.SelectorFallback]bool)
	)
	add := func(strategy models.Strategy, value string) bool {
		c := models.SelectorFallback{Strategy: strategy, Value: value}
		if value == "" || seen[c] {
			return false
		}
		seen[c] = true
		if n, known := d.CountPair(strategy, value); !known || n != 1 {
			return false
		}
		out = append(out, c)
		return limit > 0 && len(out) >= limit
	}

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if isSkippedElement(n.Data) || n.Data == "head" {
				return false
			}
			if v, ok := attr(n, TestIDAttribute); ok && add(models.StrategyTestID, v) {
				return true
			}
			if v, ok := attr(n, "id"); ok && add(models.StrategyCSS, idSelector(v)) {
				return true
			}
			if v, ok := attr(n, "name"); ok && add(models.StrategyCSS, fmt.Sprintf(`%s[name=%q]`, n.Data, v)) {
				return true
			}
			if v, ok := attr(n, "aria-label"); ok && add(models.StrategyLabel, v) {
				return true
			}
			if v, ok := attr(n, "placeholder"); ok && add(models.StrategyPlaceholder, v) {
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.root)
	return out
}

func (d *Document) collect(match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isSkippedElement(n.Data) || n.Data == "head" {
				return
			}
			if match(n) {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// matchText returns the innermost elements whose text contains value. A value
// wrapped in double quotes must match the element text exactly.
func (d *Document) matchText(value string) []*html.Node {
	exact := len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)
	if exact {
		value = value[1 : len(value)-1]
	}
	needle := normalize(value)
	matches := func(n *html.Node) bool {
		text := textContent(n)
		if isButtonInput(n) {
			text, _ = attr(n, "value")
		}
		text = normalize(text)
		if exact {
			return text == needle
		}
		return strings.Contains(text, needle)
	}
	return d.collect(func(n *html.Node) bool {
		if n.Data == "html" || n.Data == "body" || !matches(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && !isSkippedElement(c.Data) && matches(c) {
				return false
			}
		}
		return true
	})
}

// roleSelector matches `button` or `button[name="Sign in"]`.
var roleSelector = regexp.MustCompile(`^\s*([a-zA-Z]+)\s*(?:\[\s*name\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\]]*))\s*\])?\s*$`)

// parseRoleSelector splits a role selector value into role and accessible name.
func parseRoleSelector(value string) (role, name string) {
	m := roleSelector.FindStringSubmatch(value)
	if m == nil {
		return "", ""
	}
	name = m[2]
	if name == "" {
		name = m[3]
	}
	if name == "" {
		name = strings.TrimSpace(m[4])
	}
	return strings.ToLower(m[1]), name
}

func (d *Document) matchRole(role, name string) []*html.Node {
	labels := d.labelIndex()
	needle := normalize(name)
	return d.collect(func(n *html.Node) bool {
		if elementRole(n) != role {
			return false
		}
		if needle == "" {
			return true
		}
		return strings.Contains(normalize(accessibleName(n, labels)), needle)
	})
}

func (d *Document) matchLabel(value string) []*html.Node {
	labels := d.labelIndex()
	needle := normalize(value)
	return d.collect(func(n *html.Node) bool {
		if v, ok := attr(n, "aria-label"); ok && strings.Contains(normalize(v), needle) {
			return true
		}
		if !isLabelable(n) {
			return false
		}
		for _, text := range labels[n] {
			if strings.Contains(normalize(text), needle) {
				return true
			}
		}
		return false
	})
}

// labelIndex maps each labelable control to the text of the labels that
// reference it, either by for= or by nesting.
func (d *Document) labelIndex() map[*html.Node][]string {
	byID := make(map[string]*html.Node)
	for _, n := range d.collect(func(n *html.Node) bool { _, ok := attr(n, "id"); return ok }) {
		id, _ := attr(n, "id")
		if _, dup := byID[id]; !dup {
			byID[id] = n
		}
	}

	index := make(map[*html.Node][]string)
	for _, label := range d.collect(func(n *html.Node) bool { return n.Data == "label" }) {
		text := textContent(label)
		if target, ok := attr(label, "for"); ok {
			if n := byID[target]; n != nil {
				index[n] = append(index[n], text)
			}
			continue
		}
		var nested func(*html.Node) bool
		nested = func(n *html.Node) bool {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && isLabelable(c) {
					index[c] = append(index[c], text)
					return true
				}
				if nested(c) {
					return true
				}
			}
			return false
		}
		nested(label)
	}
	return index
}

func elementRole(n *html.Node) string {
	if v, ok := attr(n, "role"); ok {
		if fields := strings.Fields(v); len(fields) > 0 {
			return strings.ToLower(fields[0])
		}
	}
	switch n.Data {
	case "a", "area":
		if _, ok := attr(n, "href"); ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "input":
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week":
			return ""
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		if _, ok := attr(n, "multiple"); ok {
			return "listbox"
		}
		return "combobox"
	case "option":
		return "option"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "img":
		if alt, ok := attr(n, "alt"); !ok || alt != "" {
			return "img"
		}
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "table":
		return "table"
	case "tr":
		return "row"
	case "td":
		return "cell"
	case "th":
		return "columnheader"
	case "dialog":
		return "dialog"
	case "form":
		return "form"
	}
	return ""
}

func accessibleName(n *html.Node, labels map[*html.Node][]string) string {
	if v, ok := attr(n, "aria-label"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if texts := labels[n]; len(texts) > 0 {
		return strings.Join(texts, " ")
	}
	switch {
	case isButtonInput(n):
		v, _ := attr(n, "value")
		return v
	case n.Data == "img":
		v, _ := attr(n, "alt")
		return v
	case n.Data == "input" || n.Data == "textarea":
		if v, ok := attr(n, "placeholder"); ok {
			return v
		}
		v, _ := attr(n, "title")
		return v
	}
	return textContent(n)
}

func isLabelable(n *html.Node) bool {
	switch n.Data {
	case "input":
		t, _ := attr(n, "type")
		return !strings.EqualFold(t, "hidden")
	case "textarea", "select", "button", "meter", "output", "progress":
		return true
	}
	return false
}

func isButtonInput(n *html.Node) bool {
	if n.Data != "input" {
		return false
	}
	t, _ := attr(n, "type")
	switch strings.ToLower(t) {
	case "button", "submit", "reset":
		return true
	}
	return false
}

// cssIdent matches ids usable after # without escaping.
var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func idSelector(id string) string {
	if cssIdent.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id=%q]`, id)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// textContent concatenates the text below n, skipping script and style.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && isSkippedElement(n.Data) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
