package seqflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexmap/lexmap/pipeline"
)

type extractorFunc func(ctx context.Context, source string) (string, string, string, error)

func (f extractorFunc) Extract(ctx context.Context, source string) (string, string, string, error) {
	return f(ctx, source)
}

type dividerFunc func(ctx context.Context, domain, subject, body string) (*pipeline.Division, error)

func (f dividerFunc) Divide(ctx context.Context, domain, subject, body string) (*pipeline.Division, error) {
	return f(ctx, domain, subject, body)
}

type generatorFunc func(ctx context.Context, req pipeline.GenerateRequest) (string, error)

func (f generatorFunc) Generate(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
	return f(ctx, req)
}

type reviewerFunc func(ctx context.Context, req pipeline.ReviewRequest) (*pipeline.Verdict, error)

func (f reviewerFunc) Review(ctx context.Context, req pipeline.ReviewRequest) (*pipeline.Verdict, error) {
	return f(ctx, req)
}

type persisterFunc func(ctx context.Context, jobID string, res *pipeline.PartResult) (string, error)

func (f persisterFunc) Persist(ctx context.Context, jobID string, res *pipeline.PartResult) (string, error) {
	return f(ctx, jobID, res)
}

var partContent = strings.Repeat("fundamentos e requisitos do instituto em estudo ", 4)

func testOptions(parts int) Options {
	return Options{
		Extractor: extractorFunc(func(context.Context, string) (string, string, string, error) {
			return "Direito Civil", "Contratos", strings.Repeat(partContent, 2), nil
		}),
		Divider: dividerFunc(func(context.Context, string, string, string) (*pipeline.Division, error) {
			div := &pipeline.Division{DeclaredCount: parts}
			for i := 1; i <= parts; i++ {
				div.Parts = append(div.Parts, pipeline.DividedPart{
					Number: i, Title: "Parte " + string(rune('A'+i-1)), Content: partContent,
				})
			}
			return div, nil
		}),
		Generator: generatorFunc(func(_ context.Context, req pipeline.GenerateRequest) (string, error) {
			return "mindmap\n  {{**" + req.Subject + "**}}\n    " + req.PartTitle, nil
		}),
		Reviewer: reviewerFunc(func(context.Context, pipeline.ReviewRequest) (*pipeline.Verdict, error) {
			return &pipeline.Verdict{Approved: true, Score: 9, Rationale: "bom"}, nil
		}),
		Config: pipeline.Config{
			MaxAttempts:     3,
			RetryDelay:      time.Millisecond,
			ErrorRetryDelay: time.Millisecond,
			Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func noSleep(m *Machine) *Machine {
	m.sleep = func(context.Context, time.Duration) {}
	return m
}

func TestRun_HappyPath(t *testing.T) {
	// WHAT: Two approving parts drive the machine Parsing→…→Done with both
	// results recorded in part order and persisted.
	// WHY: This is the baseline transition graph everything else degrades from.
	var persisted []int
	opts := testOptions(2)
	opts.Persister = persisterFunc(func(_ context.Context, _ string, res *pipeline.PartResult) (string, error) {
		persisted = append(persisted, res.PartNumber)
		return "loc", nil
	})

	m := noSleep(New("job-1", "doc.html", opts))
	job, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if m.State().Phase != PhaseDone {
		t.Fatalf("phase: %s, want done", m.State().Phase)
	}
	if job.Status != pipeline.StatusComplete {
		t.Errorf("status: %s, want complete", job.Status)
	}
	if len(job.Results) != 2 {
		t.Fatalf("results: %d, want 2", len(job.Results))
	}
	for i, res := range job.Results {
		if res.PartNumber != i+1 || !res.Approved {
			t.Errorf("result %d: %+v", i, res)
		}
	}
	if len(persisted) != 2 {
		t.Errorf("persisted: %v, want both parts", persisted)
	}
}

func TestStep_PhaseSequence(t *testing.T) {
	// WHAT: Single-stepping visits the documented phase sequence for a
	// one-part document.
	// WHY: Step is the external contract; callers drive and observe it.
	m := noSleep(New("job-1", "doc.html", testOptions(1)))

	want := []Phase{PhaseDividing, PhaseGenerating, PhaseRevising, PhaseSaving, PhaseDone}
	for _, phase := range want {
		if err := m.Step(context.Background()); err != nil {
			t.Fatalf("step: %v", err)
		}
		if got := m.State().Phase; got != phase {
			t.Fatalf("phase after step: %s, want %s", got, phase)
		}
	}
	// Stepping an absorbing phase is a no-op.
	if err := m.Step(context.Background()); err != nil {
		t.Fatalf("step at done: %v", err)
	}
	if m.State().Phase != PhaseDone {
		t.Error("done must absorb further steps")
	}
}

func TestAttemptCounterResetsOnPartChange(t *testing.T) {
	// WHAT: After part 1 is finalized on its second attempt, part 2's first
	// review sees attempt 1, not a carried-over counter.
	// WHY: A shared counter across parts is the historical infinite-loop bug
	// this machine's state layout exists to prevent.
	var seen []struct{ part, attempt int }
	opts := testOptions(2)
	rejectedOnce := false
	opts.Reviewer = reviewerFunc(func(_ context.Context, req pipeline.ReviewRequest) (*pipeline.Verdict, error) {
		seen = append(seen, struct{ part, attempt int }{partOf(req.PartTitle), req.Attempt})
		if !rejectedOnce {
			rejectedOnce = true
			return &pipeline.Verdict{Approved: false, Score: 4, Rationale: "refaça"}, nil
		}
		return &pipeline.Verdict{Approved: true, Score: 8, Rationale: "ok"}, nil
	})

	m := noSleep(New("job-1", "doc.html", opts))
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []struct{ part, attempt int }{{1, 1}, {1, 2}, {2, 1}}
	if len(seen) != len(want) {
		t.Fatalf("reviews: %+v, want %+v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("review %d: %+v, want %+v", i, seen[i], want[i])
		}
	}
}

func partOf(title string) int {
	return int(title[len(title)-1] - 'A' + 1)
}

func TestForceApprovalTerminatesRejectionLoop(t *testing.T) {
	// WHAT: An always-rejecting reviewer still reaches Done, with every part
	// force-approved after exactly MaxAttempts generations.
	// WHY: Termination within the budget is the machine's core invariant.
	generations := 0
	opts := testOptions(2)
	base := opts.Generator
	opts.Generator = generatorFunc(func(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
		generations++
		return base.Generate(ctx, req)
	})
	opts.Reviewer = reviewerFunc(func(context.Context, pipeline.ReviewRequest) (*pipeline.Verdict, error) {
		return &pipeline.Verdict{Approved: false, Score: 2.5, Rationale: "inaceitável"}, nil
	})

	m := noSleep(New("job-1", "doc.html", opts))
	job, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if m.State().Phase != PhaseDone {
		t.Fatalf("phase: %s, want done", m.State().Phase)
	}
	if generations != 6 {
		t.Errorf("generations: %d, want 2 parts x 3 attempts", generations)
	}
	for _, res := range job.Results {
		if !res.Approved || !res.ForcedApproval {
			t.Errorf("part %d: want force-approved, got %+v", res.PartNumber, res)
		}
		if res.Score != 2.5 {
			t.Errorf("part %d score: %v, want original 2.5", res.PartNumber, res.Score)
		}
	}
	if job.Status != pipeline.StatusComplete {
		t.Errorf("status: %s, want complete (forced approvals count)", job.Status)
	}
}

func TestGenerationErrorsExhaustToFailedResult(t *testing.T) {
	// WHAT: A generator erroring on every attempt records a failed result for
	// that part and the machine still finishes.
	// WHY: One broken part must advance, not wedge the sequential flow.
	opts := testOptions(2)
	base := opts.Generator
	opts.Generator = generatorFunc(func(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
		if strings.HasSuffix(req.PartTitle, "A") {
			return "", errors.New("model down")
		}
		return base.Generate(ctx, req)
	})

	m := noSleep(New("job-1", "doc.html", opts))
	job, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if m.State().Phase != PhaseDone {
		t.Fatalf("phase: %s, want done", m.State().Phase)
	}
	if job.Status != pipeline.StatusPartial {
		t.Errorf("status: %s, want partial", job.Status)
	}
	if len(job.Results) != 2 {
		t.Fatalf("results: %d, want 2", len(job.Results))
	}
	failed := job.Results[0]
	if failed.Approved || failed.Artifact != "" || failed.AttemptsUsed != 3 {
		t.Errorf("failed part: %+v", failed)
	}
	if !job.Results[1].Approved {
		t.Error("healthy sibling should be approved")
	}
}

func TestExtractionErrorIsAbsorbing(t *testing.T) {
	// WHAT: A parsing failure transitions to Error and stays there.
	// WHY: Error is absorbing; callers poll Done() and read the message.
	opts := testOptions(1)
	opts.Extractor = extractorFunc(func(context.Context, string) (string, string, string, error) {
		return "", "", "", errors.New("title pattern not found")
	})

	m := noSleep(New("job-1", "broken.html", opts))
	job, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.State().Phase != PhaseError {
		t.Fatalf("phase: %s, want error", m.State().Phase)
	}
	if job.Status != pipeline.StatusFailed {
		t.Errorf("status: %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "title pattern") {
		t.Errorf("error message should carry the cause, got %q", job.ErrorMessage)
	}
}

func TestCheckpointAndResume(t *testing.T) {
	// WHAT: A machine stepped partway writes a checkpoint another machine can
	// resume from, landing in the same phase with the same position.
	// WHY: Resumability after interruption is why the state machine exists.
	dir := t.TempDir()
	opts := testOptions(2)
	opts.CheckpointDir = dir

	m := noSleep(New("job-ckpt", "doc.html", opts))
	// Parse, divide, generate once: now mid-flight on part 1.
	for i := 0; i < 3; i++ {
		if err := m.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	saved := m.State()
	if saved.Phase != PhaseRevising || saved.CurrentPart != 1 || saved.Attempt != 1 {
		t.Fatalf("unexpected mid-flight state: %+v", saved)
	}

	if _, err := os.Stat(filepath.Join(dir, "job-ckpt.state.json")); err != nil {
		t.Fatalf("checkpoint file: %v", err)
	}

	resumed, err := Resume("job-ckpt", "doc.html", opts)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	noSleep(resumed)
	got := resumed.State()
	if got.Phase != saved.Phase || got.CurrentPart != saved.CurrentPart || got.Attempt != saved.Attempt {
		t.Fatalf("resumed state %+v, want %+v", got, saved)
	}

	job, err := resumed.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if job.Status != pipeline.StatusComplete {
		t.Errorf("status after resume: %s, want complete", job.Status)
	}
}

func TestResume_NoCheckpointStartsFresh(t *testing.T) {
	// WHAT: Resume without an existing checkpoint behaves like New.
	// WHY: First runs and resumed runs share one code path in callers.
	opts := testOptions(1)
	opts.CheckpointDir = t.TempDir()

	m, err := Resume("never-ran", "doc.html", opts)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if m.State().Phase != PhaseParsing {
		t.Errorf("phase: %s, want parsing", m.State().Phase)
	}
}
