// Package extract turns uploaded study documents into pipeline inputs.
//
// Supported formats:
//   - .html — legal-study pages: domain/subject from the <title>, body from
//     <section id="fundamentacao"> (with landmark fallbacks)
//   - .md / .txt — passthrough with whitespace normalization
//   - .pdf — text extraction via pdfcpu content streams
//
// Every format resolves to a Source{Domain, Subject, Body}; bodies shorter
// than MinBodyChars are rejected before any model call is spent on them.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Format identifies a supported document format.
type Format string

const (
	FormatHTML Format = "html"
	FormatMD   Format = "md"
	FormatTXT  Format = "txt"
	FormatPDF  Format = "pdf"
)

// Source is one extracted document, ready for division.
type Source struct {
	Path    string
	Format  Format
	Title   string
	Domain  string
	Subject string
	Body    string
}

// ParseError is a document-level extraction failure. The document never
// reaches the pipeline; sibling documents are unaffected.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Config configures the extractor.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 10 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// MinBodyChars rejects documents whose body is too short to divide
	// (default: 100).
	MinBodyChars int `json:"min_body_chars" yaml:"min_body_chars"`

	// WarnBodyChars logs a warning for bodies that may blow model context
	// windows (default: 100000).
	WarnBodyChars int `json:"warn_body_chars" yaml:"warn_body_chars"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if c.MinBodyChars <= 0 {
		c.MinBodyChars = 100
	}
	if c.WarnBodyChars <= 0 {
		c.WarnBodyChars = 100_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor dispatches extraction by file format.
type Extractor struct {
	cfg       Config
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	md        *converter.Converter
}

// New creates an Extractor with the given configuration.
func New(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{
		cfg:       cfg,
		logger:    cfg.Logger,
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Detect returns the document format based on file extension.
func Detect(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".html", ".htm":
		return FormatHTML, nil
	case ".md", ".markdown":
		return FormatMD, nil
	case ".txt", ".text":
		return FormatTXT, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", ext)
	}
}

// Extract parses one document file into a Source.
func (x *Extractor) Extract(ctx context.Context, path string) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "stat", Err: err}
	}
	if info.Size() > x.cfg.MaxFileSize {
		return nil, &ParseError{
			Path:   path,
			Reason: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), x.cfg.MaxFileSize),
		}
	}

	format, err := Detect(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "detect", Err: err}
	}

	x.logger.Debug("extracting document", "path", path, "format", format)

	var src *Source
	switch format {
	case FormatHTML:
		src, err = x.extractHTML(path)
	case FormatMD, FormatTXT:
		src, err = x.extractText(path, format)
	case FormatPDF:
		src, err = x.extractPDF(path)
	default:
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("no parser for format %s", format)}
	}
	if err != nil {
		return nil, err
	}

	src.Body = normalizeBody(src.Body)
	if n := len([]rune(src.Body)); n < x.cfg.MinBodyChars {
		return nil, &ParseError{
			Path:   path,
			Reason: fmt.Sprintf("body too short (%d chars, min %d)", n, x.cfg.MinBodyChars),
		}
	} else if n > x.cfg.WarnBodyChars {
		x.logger.Warn("body very long, model context may be exceeded",
			"path", path, "chars", n)
	}

	return src, nil
}

// normalizeBody collapses blank-line runs and repeated spaces.
func normalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		for strings.Contains(line, "  ") {
			line = strings.ReplaceAll(line, "  ", " ")
		}
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// SupportedFormats returns all supported format extensions.
func SupportedFormats() []string {
	return []string{"html", "md", "txt", "pdf"}
}
