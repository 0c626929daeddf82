package extract

import (
	"bytes"
	"os"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// titleRe matches the study-page title convention:
// [Domain] - [Subject] - anything.
var titleRe = regexp.MustCompile(`^\[(.+?)\]\s*-\s*\[(.+?)\]\s*-`)

// titleLooseRe is the bracket-less fallback: Domain - Subject - anything.
var titleLooseRe = regexp.MustCompile(`^(.+?)\s*-\s*(.+?)\s*-`)

// bodySelectors are tried in order; the first match with content wins.
// section#fundamentacao is the study-page convention, the rest are
// landmark fallbacks for less disciplined documents.
var bodySelectors = []string{"section#fundamentacao", "main", "article", "body"}

// extractHTML pulls domain/subject from the <title> and the body from the
// first matching content section. The section HTML is sanitized and converted
// to markdown so the body keeps its heading/list structure.
func (x *Extractor) extractHTML(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "read", Err: err}
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "parse html", Err: err}
	}

	title := findTitle(doc)
	if title == "" {
		return nil, &ParseError{Path: path, Reason: "no <title> element"}
	}

	domain, subject, ok := parseTitle(title)
	if !ok {
		return nil, &ParseError{
			Path:   path,
			Reason: "title does not follow \"[Domain] - [Subject] - ...\": " + title,
		}
	}

	node := findBodyNode(doc)
	if node == nil {
		return nil, &ParseError{Path: path, Reason: "no content section found"}
	}

	body := x.nodeToMarkdown(node)
	if body == "" {
		return nil, &ParseError{Path: path, Reason: "content section is empty"}
	}

	return &Source{
		Path:    path,
		Format:  FormatHTML,
		Title:   title,
		Domain:  domain,
		Subject: subject,
		Body:    body,
	}, nil
}

// parseTitle extracts domain and subject from a page title.
func parseTitle(title string) (domain, subject string, ok bool) {
	if m := titleRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	if m := titleLooseRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	return "", "", false
}

// findBodyNode returns the first node matching bodySelectors that has text.
func findBodyNode(doc *html.Node) *html.Node {
	for _, sel := range bodySelectors {
		for _, n := range querySelectorAll(doc, sel) {
			if strings.TrimSpace(collectText(n)) != "" {
				return n
			}
		}
	}
	return nil
}

// nodeToMarkdown renders a node subtree, sanitizes it, and converts it to
// markdown. Falls back to plain collected text if conversion comes up empty.
func (x *Extractor) nodeToMarkdown(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return strings.TrimSpace(collectText(n))
	}
	clean := x.sanitizer.Sanitize(buf.String())
	md, err := x.md.ConvertString(clean)
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(collectText(n))
	}
	return strings.TrimSpace(md)
}

// findTitle extracts the <title> text.
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// querySelectorAll returns all nodes matching a simple selector. Supported
// forms: "tag", "#id", ".class", "tag#id", "tag.class", and space-separated
// descendant combinations.
func querySelectorAll(doc *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}

	matches := matchSimple(doc, parts[0])
	for i := 1; i < len(parts); i++ {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchSimple(parent, parts[i])...)
		}
		matches = next
	}
	return matches
}

type simpleSelector struct {
	tag   string
	id    string
	class string
}

func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = sel
	return s
}

func matchSimple(root *html.Node, sel string) []*html.Node {
	m := parseSimpleSelector(sel)
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesSelector(n, m) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(getAttr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
