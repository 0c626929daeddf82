package extract

import (
	"os"
	"path/filepath"
	"strings"
)

// fallbackDomain is used for formats that carry no domain metadata.
const fallbackDomain = "Geral"

// extractText handles .md and .txt files. The title is the first markdown
// heading (or the first non-empty line); domain/subject follow the title
// convention when present, otherwise the whole title becomes the subject.
func (x *Extractor) extractText(path string, format Format) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "read", Err: err}
	}

	body := string(data)
	title := firstLineTitle(body, format == FormatMD)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	domain, subject, ok := parseTitle(title)
	if !ok {
		domain, subject = fallbackDomain, title
	}

	return &Source{
		Path:    path,
		Format:  format,
		Title:   title,
		Domain:  domain,
		Subject: subject,
		Body:    body,
	}, nil
}

// firstLineTitle returns the first heading (markdown) or first non-empty
// line, truncated to something title-sized.
func firstLineTitle(body string, markdown bool) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if markdown {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
			if line == "" {
				continue
			}
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}
