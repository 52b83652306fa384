package dsl

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/mender/pkg/models"
)

// listMarker matches "1.", "2)", "-", "*" prefixes models put in front of lines.
var listMarker = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s+`)

// StripCodeFences returns the contents of the fenced blocks in s, or s itself
// (trimmed) when there are none. An unclosed fence runs to the end of input.
func StripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return strings.TrimSpace(s)
	}
	var (
		inside []string
		in     bool
	)
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			in = !in
			continue
		}
		if in {
			inside = append(inside, line)
		}
	}
	return strings.TrimSpace(strings.Join(inside, "\n"))
}

// cleanLine trims list markers and inline backticks from a model output line.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = listMarker.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	if len(line) >= 2 && strings.HasPrefix(line, "`") && strings.HasSuffix(line, "`") {
		line = strings.Trim(line, "`")
	}
	return strings.TrimSpace(line)
}

// startsWithAction reports whether the first word of line is a command type.
func startsWithAction(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	_, ok := models.ParseActionType(fields[0])
	return ok
}

// ExtractCommand finds the first parseable command in a free-text model
// response. Surrounding prose, code fences and list numbering are tolerated.
func ExtractCommand(response string) ParseResult {
	body := StripCodeFences(response)
	var firstFailure *ParseFailure
	for _, raw := range strings.Split(body, "\n") {
		line := cleanLine(raw)
		if line == "" || strings.HasPrefix(line, "#") || !startsWithAction(line) {
			continue
		}
		res := ParseLine(line)
		if res.OK() {
			return res
		}
		if firstFailure == nil {
			firstFailure = res.Failure
		}
	}
	if firstFailure != nil {
		return ParseResult{Failure: firstFailure}
	}
	return fail(firstLine(response), "no command found in response")
}

// ExtractScript parses every command line in a model response. Lines that do
// not begin with a command type are treated as prose and skipped.
func ExtractScript(response string) ([]models.Command, []ParseFailure) {
	body := StripCodeFences(response)
	var cleaned []string
	for _, raw := range strings.Split(body, "\n") {
		line := cleanLine(raw)
		if line == "" || strings.HasPrefix(line, "#") || !startsWithAction(line) {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return ParseScript(strings.Join(cleaned, "\n"))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}
