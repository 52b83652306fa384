// Package browser provides the page-facing collaborators of the engine: a
// simplified markup snapshot for prompts, a static selector matcher used for
// validation, and a Playwright driver that executes commands.
package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultSnapshotChars is the character budget used when a caller passes 0.
const DefaultSnapshotChars = 12000

// Snapshot is a simplified view of a page suitable for embedding in a prompt.
type Snapshot struct {
	HTML       string
	Title      string
	Truncated  bool
	TotalChars int
}

// Simplify parses rawHTML and rewrites it keeping only structure, text and
// attributes that help target elements. Output longer than maxChars is cut and
// a truncation marker is appended. maxChars <= 0 disables truncation.
func Simplify(rawHTML string, maxChars int) (Snapshot, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var b strings.Builder
	cleanNode(doc, &b, 0)
	cleaned := strings.TrimSpace(b.String())

	snap := Snapshot{
		HTML:       cleaned,
		Title:      extractTitle(doc),
		TotalChars: len(cleaned),
	}
	if maxChars > 0 && len(cleaned) > maxChars {
		end := maxChars
		for end > 0 && !utf8.RuneStart(cleaned[end]) {
			end--
		}
		cut := cleaned[:end]
		snap.HTML = fmt.Sprintf("%s\n<!-- truncated: %d of %d characters shown -->", cut, len(cut), len(cleaned))
		snap.Truncated = true
	}
	return snap, nil
}

// cleanNode recursively writes n, dropping comments and noise elements.
func cleanNode(n *html.Node, b *strings.Builder, depth int) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text != "" {
			b.WriteString(html.EscapeString(text))
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if isSkippedElement(tag) {
			return
		}
		writeElement(n, tag, b, depth)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cleanNode(c, b, depth)
	}
}

func writeElement(n *html.Node, tag string, b *strings.Builder, depth int) {
	// head only contributes the title
	if tag == "head" {
		return
	}

	block := isBlockElement(tag)
	if depth > 0 && block {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
	}

	b.WriteString("<")
	b.WriteString(tag)
	for _, attr := range n.Attr {
		if shouldPreserveAttribute(attr.Key) {
			fmt.Fprintf(b, ` %s="%s"`, strings.ToLower(attr.Key), html.EscapeString(attr.Val))
		}
	}
	b.WriteString(">")

	if isVoidElement(tag) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cleanNode(c, b, depth+1)
	}
	if block {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">")
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"link":     true,
	"meta":     true,
}

func isSkippedElement(tag string) bool {
	return skippedElements[tag]
}

var blockElements = map[string]bool{
	"html": true, "body": true,
	"div": true, "p": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "dialog": true,
}

func isBlockElement(tag string) bool {
	return blockElements[tag]
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

func isVoidElement(tag string) bool {
	return voidElements[tag]
}

var preservedAttributes = map[string]bool{
	"id":          true,
	"class":       true,
	"role":        true,
	"name":        true,
	"type":        true,
	"placeholder": true,
	"href":        true,
	"alt":         true,
	"for":         true,
	"value":       true,
	"title":       true,
}

// shouldPreserveAttribute keeps attributes a selector can target. Inline
// styling and event handlers never match.
func shouldPreserveAttribute(name string) bool {
	name = strings.ToLower(name)
	if name == "style" || strings.HasPrefix(name, "on") {
		return false
	}
	if strings.HasPrefix(name, "aria-") || strings.HasPrefix(name, "data-") {
		return true
	}
	return preservedAttributes[name]
}

func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node) bool
	traverse = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(textContent(n))
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if traverse(c) {
				return true
			}
		}
		return false
	}
	traverse(doc)
	return title
}
