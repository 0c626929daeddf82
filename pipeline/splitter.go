package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyBody is returned when a document reaches the splitter with no
// usable body text.
var ErrEmptyBody = errors.New("splitter: empty document body")

const truncationMarker = "\n\n[...content truncated...]"

// Splitter calls the divider once per document and converts its proposal
// into an ordered, validated sequence of parts.
type Splitter struct {
	divider Divider
	cfg     Config
	emitter Emitter
}

// NewSplitter creates a Splitter. cfg is copied; unset fields get defaults.
func NewSplitter(divider Divider, cfg Config, emitter Emitter) *Splitter {
	cfg.defaults()
	return &Splitter{divider: divider, cfg: cfg, emitter: emitter}
}

// Split divides a document body into parts. Failure here is document-fatal:
// it returns a *DivisionError and no part will be attempted.
//
// Guarantees on success: at least one part, every part content non-empty and
// at least MinPartChars long, numbers a contiguous 1..N sequence matching
// slice position.
func (s *Splitter) Split(ctx context.Context, jobID, domain, subject, body string) ([]Part, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &DivisionError{Err: ErrEmptyBody}
	}

	prepared := body
	if len(prepared) > s.cfg.MaxDivideChars {
		s.cfg.Logger.Warn("splitter: body truncated for division",
			"job_id", jobID, "len", len(body), "max", s.cfg.MaxDivideChars)
		prepared = prepared[:s.cfg.MaxDivideChars] + truncationMarker
	}

	div, err := s.divider.Divide(ctx, domain, subject, prepared)
	if err != nil {
		return nil, &DivisionError{Err: err}
	}
	if len(div.Parts) == 0 {
		return nil, &DivisionError{Err: errors.New("divider returned no parts")}
	}
	if div.DeclaredCount != 0 && div.DeclaredCount != len(div.Parts) {
		// Non-fatal: trust the actual parts, surface the inconsistency.
		s.cfg.Logger.Warn("splitter: declared part count disagrees with parts returned",
			"job_id", jobID, "declared", div.DeclaredCount, "actual", len(div.Parts))
		emit(s.emitter, Event{
			Kind: EventLog, JobID: jobID, Stage: "splitting", Level: "warn",
			Message: fmt.Sprintf("divider declared %d parts but returned %d", div.DeclaredCount, len(div.Parts)),
		})
	}

	parts := make([]Part, 0, len(div.Parts))
	for i, dp := range div.Parts {
		content := dp.Content
		if content == "" {
			content = locateSpan(body, dp.ContentStart, dp.ContentEnd)
		}
		if len(strings.TrimSpace(content)) < s.cfg.MinPartChars {
			return nil, &DivisionError{Err: fmt.Errorf(
				"part %d (%q) content too short: %d chars (min %d)",
				i+1, dp.Title, len(strings.TrimSpace(content)), s.cfg.MinPartChars)}
		}
		// Renumber positionally; divider numbering is advisory.
		parts = append(parts, Part{Number: i + 1, Title: dp.Title, Content: content})
	}

	emit(s.emitter, Event{
		Kind: EventLog, JobID: jobID, Stage: "splitting",
		Message: fmt.Sprintf("content divided into %d part(s)", len(parts)),
		Data:    map[string]any{"rationale": div.Rationale},
	})
	return parts, nil
}

// locateSpan extracts the slice of body between the start and end anchor
// snippets. Anchors are matched case-insensitively on their first 50 chars.
// If either anchor cannot be located the full body is returned, so a sloppy
// divider degrades to overlapping parts instead of losing content.
func locateSpan(body, start, end string) string {
	startKey := anchorKey(start)
	endKey := anchorKey(end)
	if startKey == "" || endKey == "" {
		return body
	}

	lower := strings.ToLower(body)
	i := strings.Index(lower, strings.ToLower(startKey))
	j := strings.Index(lower, strings.ToLower(endKey))
	if i < 0 || j < 0 || j < i {
		return body
	}
	return body[i : j+len(endKey)]
}

func anchorKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
