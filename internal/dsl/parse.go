// Package dsl reads and writes the line-oriented text form of browser commands.
//
// One command per line:
//
//	<type> [<strategy>=<value> [fallback=<strategy>=<value>]...] [<param>=<value> ...]
//
// Values containing whitespace are double-quoted using Go string escapes.
// Quotes inside a value, as in css=a[href="/x"], are part of the value.
package dsl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/mender/pkg/models"
)

const fallbackKey = "fallback"

// ParseFailure describes a line that could not be turned into a command.
type ParseFailure struct {
	Line   string
	Reason string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("parse %q: %s", f.Line, f.Reason)
}

// ParseResult is either a parsed Command or a Failure, never both.
type ParseResult struct {
	Command models.Command
	Failure *ParseFailure
}

// OK reports whether parsing produced a command.
func (r ParseResult) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil.
func (r ParseResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func fail(line, format string, args ...interface{}) ParseResult {
	return ParseResult{Failure: &ParseFailure{Line: line, Reason: fmt.Sprintf(format, args...)}}
}

// ParseLine parses one command line. It never panics; every problem is
// reported through ParseResult.Failure.
func ParseLine(line string) ParseResult {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return fail(line, "empty line")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return fail(trimmed, "%v", err)
	}
	head := tokens[0]
	if head.kv {
		return fail(trimmed, "line must start with a command type")
	}
	action, ok := models.ParseActionType(head.value)
	if !ok {
		return fail(trimmed, "unknown command type %q", head.value)
	}

	var (
		sel    *models.Selector
		params map[string]string
	)
	for _, tok := range tokens[1:] {
		if !tok.kv {
			return fail(trimmed, "unexpected token %q, want key=value", tok.value)
		}
		key := strings.ToLower(tok.key)

		if key == fallbackKey {
			if sel == nil {
				return fail(trimmed, "fallback before selector")
			}
			strategy, value, found := strings.Cut(tok.value, "=")
			st, known := models.ParseStrategy(strategy)
			if !found || !known || strings.TrimSpace(value) == "" {
				return fail(trimmed, "invalid fallback %q", tok.value)
			}
			sel.Fallbacks = append(sel.Fallbacks, models.SelectorFallback{Strategy: st, Value: value})
			continue
		}

		if st, known := models.ParseStrategy(key); known && sel == nil && params == nil {
			sel = &models.Selector{Strategy: st, Value: tok.value}
			continue
		}

		if params == nil {
			params = make(map[string]string)
		}
		params[key] = tok.value
	}

	cmd, err := models.NewCommand(action, params, sel)
	if err != nil {
		if errors.Is(err, models.ErrMalformedCommand) {
			return fail(trimmed, "%s", strings.TrimPrefix(err.Error(), models.ErrMalformedCommand.Error()+": "))
		}
		return fail(trimmed, "%v", err)
	}
	return ParseResult{Command: cmd}
}

// ParseScript parses one command per line, skipping blank lines and # comments.
// Commands and failures are returned in line order.
func ParseScript(text string) ([]models.Command, []ParseFailure) {
	var (
		cmds     []models.Command
		failures []ParseFailure
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		res := ParseLine(trimmed)
		if !res.OK() {
			failures = append(failures, *res.Failure)
			continue
		}
		cmds = append(cmds, res.Command)
	}
	return cmds, failures
}

type token struct {
	key   string
	value string
	kv    bool
}

// tokenize splits on whitespace outside quotes. The first '=' separates key
// from value. A double quote opening a value (or a fallback's value) is Go
// string quoting and is removed; quotes later in a value, as in
// a[href="/x"], are kept literally and may contain whitespace.
func tokenize(line string) ([]token, error) {
	var tokens []token
	i, n := 0, len(line)
	for i < n {
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			break
		}

		var (
			b   strings.Builder
			tok token
		)
		for i < n && !isSpace(line[i]) {
			switch c := line[i]; {
			case c == '"' && opensValue(tok, b.String()):
				end := closingQuote(line, i, '"')
				if end < 0 {
					return nil, errors.New("unterminated quote")
				}
				s, err := strconv.Unquote(line[i : end+1])
				if err != nil {
					return nil, fmt.Errorf("bad quoted value %s", line[i:end+1])
				}
				b.WriteString(s)
				i = end + 1
			case (c == '"' || c == '\'' && b.Len() > 0) && tok.kv:
				end := closingQuote(line, i, c)
				if end < 0 {
					b.WriteByte(c)
					i++
					continue
				}
				b.WriteString(line[i : end+1])
				i = end + 1
			case c == '=' && !tok.kv:
				tok.key = b.String()
				tok.kv = true
				b.Reset()
				i++
			default:
				b.WriteByte(c)
				i++
			}
		}
		tok.value = b.String()
		if tok.kv && tok.key == "" {
			return nil, fmt.Errorf("missing key before =%s", tok.value)
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty line")
	}
	return tokens, nil
}

// opensValue reports whether a quote at this point starts a quoted value:
// at the start of a token or value, or right after a fallback's strategy=.
func opensValue(tok token, sofar string) bool {
	if sofar == "" {
		return true
	}
	return tok.kv && strings.EqualFold(tok.key, fallbackKey) &&
		strings.Count(sofar, "=") == 1 && strings.HasSuffix(sofar, "=")
}

func closingQuote(s string, open int, q byte) int {
	for j := open + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}
