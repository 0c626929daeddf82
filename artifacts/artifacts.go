// Package artifacts writes finalized mindmaps as .mmd files.
//
// Each file carries a YAML frontmatter block with review metadata followed by
// the Mermaid source. Files are written atomically (write .tmp then rename)
// so consumers never observe partial artifacts.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Metadata describes one finalized part for the artifact frontmatter.
type Metadata struct {
	JobID        string
	Domain       string
	Subject      string
	PartTitle    string
	PartNumber   int
	Approved     bool
	Forced       bool
	Score        float64
	AttemptsUsed int
	SavedAt      time.Time
}

// Writer deposits .mmd files into the output directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer targeting dir. The directory is created on
// first write if it does not exist.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores one part's mindmap as <base>_partNN.mmd and returns the path.
func (w *Writer) Write(ctx context.Context, base string, meta Metadata, artifact string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: mkdir %s: %w", w.dir, err)
	}

	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now()
	}

	filename := fmt.Sprintf("%s_part%02d.mmd", Slug(base), meta.PartNumber)
	target := filepath.Join(w.dir, filename)
	tmp := target + ".tmp"

	content := formatFrontmatter(meta) + strings.TrimSpace(artifact) + "\n"

	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("artifacts: rename: %w", err)
	}

	return target, nil
}

// formatFrontmatter builds the YAML metadata block.
func formatFrontmatter(m Metadata) string {
	return "---\n" +
		"job_id: " + m.JobID + "\n" +
		"domain: " + yamlEscape(m.Domain) + "\n" +
		"subject: " + yamlEscape(m.Subject) + "\n" +
		"part_title: " + yamlEscape(m.PartTitle) + "\n" +
		fmt.Sprintf("part_number: %d\n", m.PartNumber) +
		fmt.Sprintf("approved: %t\n", m.Approved) +
		fmt.Sprintf("forced_approval: %t\n", m.Forced) +
		fmt.Sprintf("score: %.1f\n", m.Score) +
		fmt.Sprintf("attempts_used: %d\n", m.AttemptsUsed) +
		"saved_at: " + m.SavedAt.UTC().Format(time.RFC3339) + "\n" +
		"---\n\n"
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns an arbitrary base name into a safe filename fragment.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "document"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// yamlEscape quotes strings containing YAML special characters.
func yamlEscape(s string) string {
	if strings.ContainsAny(s, ":#'\"{}[],&*?|-<>=!%@`\n") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		return `"` + s + `"`
	}
	return s
}
