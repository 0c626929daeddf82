package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexmap/lexmap/artifacts"
	"github.com/lexmap/lexmap/events"
	"github.com/lexmap/lexmap/extract"
	"github.com/lexmap/lexmap/pipeline"
	"github.com/lexmap/lexmap/store"
)

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

func approvingCollaborators() Collaborators {
	return Collaborators{
		Divider: dividerFunc(func(_ context.Context, _, _, body string) (*pipeline.Division, error) {
			return &pipeline.Division{
				DeclaredCount: 1,
				Parts:         []pipeline.DividedPart{{Number: 1, Title: "Conceito", Content: body}},
			}, nil
		}),
		Generator: generatorFunc(func(_ context.Context, req pipeline.GenerateRequest) (string, error) {
			return "mindmap\n  {{**" + req.Subject + "**}}", nil
		}),
		Reviewer: reviewerFunc(func(context.Context, pipeline.ReviewRequest) (*pipeline.Verdict, error) {
			return &pipeline.Verdict{Approved: true, Score: 9, Rationale: "ok"}, nil
		}),
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(store.OpenMemory(t))
	hub := events.NewHub(logger)
	x := extract.New(extract.Config{Logger: logger})
	sink := store.NewSink(st, artifacts.NewWriter(t.TempDir()), logger)

	pcfg := pipeline.Config{
		MaxAttempts:     3,
		RetryDelay:      time.Millisecond,
		ErrorRetryDelay: time.Millisecond,
		Logger:          logger,
	}
	svc := NewService(x, approvingCollaborators(), sink, st, hub, pcfg, logger)
	return NewServer(svc, st, hub, t.TempDir(), logger), st
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func studyPage(title, body string) string {
	return `<html><head><title>` + title + `</title></head>
<body><section id="fundamentacao"><p>` + body + `</p></section></body></html>`
}

var longBody = strings.Repeat("requisitos de validade e atributos do ato administrativo ", 4)

func TestKnobsValidate(t *testing.T) {
	cases := []struct {
		name  string
		knobs Knobs
		ok    bool
	}{
		{"zero means defaults", Knobs{}, true},
		{"in range", Knobs{MaxPartsInFlight: 5, MaxDocumentsInFlight: 3}, true},
		{"parts too high", Knobs{MaxPartsInFlight: 6}, false},
		{"parts negative", Knobs{MaxPartsInFlight: -1}, false},
		{"docs too high", Knobs{MaxDocumentsInFlight: 4}, false},
		{"docs negative", Knobs{MaxDocumentsInFlight: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.knobs.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestProcess_AcceptsUploadAndFinishesJob(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	body, ctype := multipartUpload(t, nil, map[string]string{
		"atos.html": studyPage("[Direito Administrativo] - [Atos Administrativos] - Estudo", longBody),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body)
	}
	var resp struct {
		JobIDs []string `json:"job_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.JobIDs) != 1 {
		t.Fatalf("job_ids: %v", resp.JobIDs)
	}

	job := waitForTerminal(t, st, resp.JobIDs[0])
	if job.Status != "complete" {
		t.Errorf("status: %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Domain != "Direito Administrativo" || job.NumParts != 1 {
		t.Errorf("job: %+v", job)
	}

	rows, err := st.ListPartResults(context.Background(), job.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("results: %v, %v", rows, err)
	}
	if !rows[0].Result.Approved || rows[0].Location == "" {
		t.Errorf("result row: %+v", rows[0])
	}
}

func TestProcess_RejectsBadKnobs(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	for _, v := range []string{"9", "-2", "abc"} {
		body, ctype := multipartUpload(t, map[string]string{"max_parts_in_flight": v},
			map[string]string{"x.html": "<html></html>"})
		req := httptest.NewRequest(http.MethodPost, "/api/process", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("knob %q: status %d, want 400", v, rec.Code)
		}
	}
}

func TestProcess_RejectsMissingAndUnsupportedFiles(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	// No files at all.
	body, ctype := multipartUpload(t, map[string]string{"max_parts_in_flight": "2"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no files: status %d", rec.Code)
	}

	// Unsupported extension.
	body, ctype = multipartUpload(t, nil, map[string]string{"doc.docx": "conteúdo"})
	req = httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported format: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "supported") {
		t.Errorf("error should list supported formats: %s", rec.Body)
	}
}

func TestProcess_ExtractionFailureFailsOnlyThatJob(t *testing.T) {
	// WHAT: One document with a malformed title fails; its sibling completes.
	srv, st := newTestServer(t)
	router := srv.Router()

	body, ctype := multipartUpload(t, nil, map[string]string{
		"good.html": studyPage("[D] - [S] - ok", longBody),
		"bad.html":  studyPage("sem convenção de título", longBody),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Jobs []*store.JobRecord `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	statuses := map[string]int{}
	for _, rec := range resp.Jobs {
		job := waitForTerminal(t, st, rec.ID)
		statuses[job.Status]++
	}
	if statuses["complete"] != 1 || statuses["failed"] != 1 {
		t.Errorf("statuses: %v", statuses)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestListJobs_EmptyIsJSONArray(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body: %s, want []", got)
	}
}

// waitForTerminal polls until the background goroutine finalizes the job.
func waitForTerminal(t *testing.T, st *store.Store, id string) *store.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && pipeline.Status(job.Status).Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", id)
	return nil
}
