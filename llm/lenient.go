package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	thinkRe      = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	fenceOpenRe  = regexp.MustCompile("(?m)^```[a-zA-Z]*[ \t]*\n?")
	fenceCloseRe = regexp.MustCompile("(?m)\n?[ \t]*```[ \t]*$")
)

// StripThink removes <think>...</think> reasoning blocks some models prepend
// to their answer. If stripping removes everything, the raw text is kept.
func StripThink(s string) string {
	clean := strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
	if clean == "" {
		return strings.TrimSpace(s)
	}
	return clean
}

// ExtractJSON recovers the JSON object from chat content that may be wrapped
// in markdown fences, prose, or reasoning blocks. It returns the substring
// from the first '{' to the last '}' after stripping wrappers.
func ExtractJSON(content string) ([]byte, error) {
	s := StripThink(content)
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j < i {
		return nil, fmt.Errorf("llm: no JSON object in response (%d chars)", len(content))
	}
	return []byte(s[i : j+1]), nil
}
