package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Function adapters so tests can stub collaborators inline.

type dividerFunc func(ctx context.Context, domain, subject, body string) (*Division, error)

func (f dividerFunc) Divide(ctx context.Context, domain, subject, body string) (*Division, error) {
	return f(ctx, domain, subject, body)
}

type generatorFunc func(ctx context.Context, req GenerateRequest) (string, error)

func (f generatorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

type reviewerFunc func(ctx context.Context, req ReviewRequest) (*Verdict, error)

func (f reviewerFunc) Review(ctx context.Context, req ReviewRequest) (*Verdict, error) {
	return f(ctx, req)
}

type persisterFunc func(ctx context.Context, jobID string, res *PartResult) (string, error)

func (f persisterFunc) Persist(ctx context.Context, jobID string, res *PartResult) (string, error) {
	return f(ctx, jobID, res)
}

// partContent is long enough to clear the minimum part length check.
var partContent = strings.Repeat("princípios e fundamentos do instituto em análise ", 4)

// staticDivider returns n parts with inline content, ignoring the body.
func staticDivider(n int) dividerFunc {
	return func(_ context.Context, _, _, _ string) (*Division, error) {
		div := &Division{DeclaredCount: n}
		for i := 1; i <= n; i++ {
			div.Parts = append(div.Parts, DividedPart{
				Number:  i,
				Title:   "Parte " + string(rune('A'+i-1)),
				Content: partContent,
			})
		}
		return div, nil
	}
}

// okGenerator returns a minimal valid mindmap mentioning the part title.
func okGenerator() generatorFunc {
	return func(_ context.Context, req GenerateRequest) (string, error) {
		return "mindmap\n  {{**" + req.Subject + "**}}\n    " + req.PartTitle, nil
	}
}

// approveReviewer always approves with the given score.
func approveReviewer(score float64) reviewerFunc {
	return func(_ context.Context, _ ReviewRequest) (*Verdict, error) {
		return &Verdict{Approved: true, Score: score, Rationale: "adequado"}, nil
	}
}

// rejectReviewer always rejects with the given score.
func rejectReviewer(score float64) reviewerFunc {
	return func(_ context.Context, _ ReviewRequest) (*Verdict, error) {
		return &Verdict{
			Approved:  false,
			Score:     score,
			Problems:  []Problem{{Category: "coverage", Severity: "high", Description: "faltam conceitos centrais"}},
			Rationale: "cobertura insuficiente",
		}, nil
	}
}

func testConfig() Config {
	return Config{
		MaxAttempts:     3,
		RetryDelay:      time.Millisecond,
		ErrorRetryDelay: time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testJob(id string) *Job {
	return &Job{
		ID:      id,
		Domain:  "Direito Administrativo",
		Subject: "Atos Administrativos",
		Body:    strings.Repeat(partContent, 3),
	}
}
