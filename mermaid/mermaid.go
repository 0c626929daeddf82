// Package mermaid sanitizes and validates Mermaid mindmap source produced
// by a language model. Fix repairs the common wrapper/whitespace issues;
// Validate checks the subset of mindmap grammar the renderer is strict about.
package mermaid

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```(?:mermaid)?[ \t]*\n?")
	fenceCloseRe = regexp.MustCompile("(?m)\n?[ \t]*```[ \t]*$")
	rootNodeRe   = regexp.MustCompile(`\{\{?\*\*.*?\*\*\}\}?`)
	iconRe       = regexp.MustCompile(`::icon\([^)]*\)`)
	iconValidRe  = regexp.MustCompile(`^::icon\(fa fa-[\w-]+\)$`)
	iconSpacesRe = regexp.MustCompile(`::icon\s*\(\s*fa\s+fa-`)
	blankRunsRe  = regexp.MustCompile(`\n{3,}`)
)

// Fix strips markdown fences and normalizes whitespace so a well-meaning but
// sloppy generation still renders. It never touches node content.
func Fix(src string) string {
	s := fenceOpenRe.ReplaceAllString(src, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	s = iconSpacesRe.ReplaceAllString(s, "::icon(fa fa-")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Validate checks mindmap structure and returns every problem found.
// An empty slice means the source is renderable.
func Validate(src string) []string {
	var errs []string

	if !strings.HasPrefix(strings.TrimSpace(src), "mindmap") {
		errs = append(errs, "source must start with 'mindmap'")
	}
	if !rootNodeRe.MatchString(src) {
		errs = append(errs, "missing root node in {{**Title**}} form")
	}

	lines := strings.Split(src, "\n")
	prevIndent := 0
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		if indent%2 != 0 {
			errs = append(errs, fmt.Sprintf("line %d: indentation must be a multiple of 2", i+1))
		}
		if indent > prevIndent+2 {
			errs = append(errs, fmt.Sprintf("line %d: indentation jumps more than one level", i+1))
		}
		prevIndent = indent
	}

	for _, icon := range iconRe.FindAllString(src, -1) {
		if !iconValidRe.MatchString(icon) {
			errs = append(errs, fmt.Sprintf("invalid icon %s (want ::icon(fa fa-name))", icon))
		}
	}

	for _, ch := range []string{"`", "~", "^", "&", "<", ">"} {
		if strings.Contains(src, ch) {
			errs = append(errs, fmt.Sprintf("problematic character %q in source", ch))
		}
	}

	if open, closed := strings.Count(src, "{"), strings.Count(src, "}"); open != closed {
		errs = append(errs, fmt.Sprintf("unbalanced braces: %d open, %d close", open, closed))
	}

	return errs
}
