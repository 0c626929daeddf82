package pipeline

import (
	"context"
	"sync"
	"testing"
)

func TestRunBatch_FailureIsolation(t *testing.T) {
	// WHAT: One document failing its division leaves the other documents and
	// the positional result order untouched.
	// WHY: Batch isolation: a bad upload must never take down its siblings.
	o := NewOrchestrator(staticDivider(2), okGenerator(), approveReviewer(9), nil, testConfig(), nil)

	jobs := []*Job{testJob("j1"), testJob("j2"), testJob("j3")}
	jobs[1].Body = "" // division will fail on the empty body

	out := o.RunBatch(context.Background(), jobs)

	for i := range jobs {
		if out[i] != jobs[i] {
			t.Fatalf("result %d is not positionally stable", i)
		}
	}
	if out[0].Status != StatusComplete || out[2].Status != StatusComplete {
		t.Errorf("sibling statuses: %s, %s; want complete, complete", out[0].Status, out[2].Status)
	}
	if out[1].Status != StatusFailed {
		t.Errorf("empty-body job status: %s, want failed", out[1].Status)
	}
	if len(out[1].Results) != 0 {
		t.Error("failed job should carry no results")
	}
}

func TestRunBatch_RespectsDocumentCap(t *testing.T) {
	// WHAT: With MaxDocumentsInFlight=1 no two documents divide concurrently.
	// WHY: The document cap bounds total model pressure across the batch.
	cfg := testConfig()
	cfg.MaxDocumentsInFlight = 1

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	d := dividerFunc(func(ctx context.Context, domain, subject, body string) (*Division, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return staticDivider(1)(ctx, domain, subject, body)
	})

	o := NewOrchestrator(d, okGenerator(), approveReviewer(9), nil, cfg, nil)
	o.RunBatch(context.Background(), []*Job{testJob("j1"), testJob("j2"), testJob("j3")})

	if maxInFlight != 1 {
		t.Errorf("max documents in flight: %d, want 1", maxInFlight)
	}
}

func TestRunBatch_PanicBecomesJobFailure(t *testing.T) {
	// WHAT: A panic inside one document's orchestration marks that job failed
	// and lets the rest of the batch finish.
	// WHY: A malformed document must not crash the whole service process.
	d := dividerFunc(func(ctx context.Context, domain, subject, body string) (*Division, error) {
		if subject == "explode" {
			panic("corrupt division state")
		}
		return staticDivider(1)(ctx, domain, subject, body)
	})
	o := NewOrchestrator(d, okGenerator(), approveReviewer(9), nil, testConfig(), nil)

	jobs := []*Job{testJob("j1"), testJob("j2")}
	jobs[1].Subject = "explode"

	out := o.RunBatch(context.Background(), jobs)

	if out[0].Status != StatusComplete {
		t.Errorf("healthy job status: %s, want complete", out[0].Status)
	}
	if out[1].Status != StatusFailed {
		t.Errorf("panicking job status: %s, want failed", out[1].Status)
	}
	if out[1].ErrorMessage == "" {
		t.Error("panicking job should carry an error message")
	}
}
