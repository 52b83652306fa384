package dsl

import (
	"strconv"
	"strings"

	"github.com/ShayCichocki/mender/pkg/models"
)

// Format renders a command in canonical text form. The output parses back to
// an equal command with ParseLine.
func Format(cmd models.Command) string {
	var b strings.Builder
	b.WriteString(string(cmd.Action()))

	if sel, ok := cmd.Selector(); ok {
		b.WriteByte(' ')
		b.WriteString(FormatPair(sel.Strategy, sel.Value))
		for _, fb := range sel.Fallbacks {
			b.WriteString(" fallback=")
			b.WriteString(FormatPair(fb.Strategy, fb.Value))
		}
	}

	for _, key := range cmd.ParamKeys() {
		v, _ := cmd.Param(key)
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quote(v))
	}
	return b.String()
}

// FormatScript renders commands one per line.
func FormatScript(cmds []models.Command) string {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = Format(c)
	}
	return strings.Join(lines, "\n")
}

// FormatPair renders one strategy=value pair, quoting the value if needed.
func FormatPair(strategy models.Strategy, value string) string {
	return string(strategy) + "=" + quote(value)
}

// quote leaves v bare when it reads back unchanged after a key=, so
// selectors like a[href="/x"] keep their natural form.
func quote(v string) string {
	if v == "" || strings.ContainsAny(v, "\t\r\n") {
		return strconv.Quote(v)
	}
	toks, err := tokenize("k=" + v)
	if err != nil || len(toks) != 1 || toks[0].value != v {
		return strconv.Quote(v)
	}
	return v
}
