package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lexmap/lexmap/events"
	"github.com/lexmap/lexmap/extract"
	"github.com/lexmap/lexmap/store"
)

// Server is the HTTP layer over a Service.
type Server struct {
	svc       *Service
	store     *store.Store
	hub       *events.Hub
	uploadDir string
	logger    *slog.Logger
}

// NewServer creates the HTTP layer. Uploaded documents land in uploadDir.
func NewServer(svc *Service, st *store.Store, hub *events.Hub, uploadDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, store: st, hub: hub, uploadDir: uploadDir, logger: logger}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/results", s.handleGetResults)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// handleProcess accepts a multipart upload of documents plus optional
// concurrency knobs and submits them for background processing.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	knobs := Knobs{
		MaxPartsInFlight:     formInt(r, "max_parts_in_flight"),
		MaxDocumentsInFlight: formInt(r, "max_documents_in_flight"),
	}
	if err := knobs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no files uploaded (field name: files)"))
		return
	}
	if len(files) > MaxUploadFiles {
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("too many files: %d (max %d)", len(files), MaxUploadFiles))
		return
	}

	var paths []string
	for _, fh := range files {
		if fh.Size > MaxUploadSize {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("%s is too large (%d bytes, max %d)", fh.Filename, fh.Size, MaxUploadSize))
			return
		}
		if _, err := extract.Detect(fh.Filename); err != nil {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("%s: %w (supported: %s)", fh.Filename, err,
					strings.Join(extract.SupportedFormats(), ", ")))
			return
		}
		path, err := s.saveUpload(fh)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		paths = append(paths, path)
	}

	records, err := s.svc.Submit(r.Context(), paths, knobs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_ids": ids,
		"jobs":    records,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	jobs, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []*store.JobRecord{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}
	results, err := s.store.ListPartResults(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []*store.PartRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":     job,
		"results": results,
	})
}

// saveUpload streams one multipart file into the upload directory under a
// unique name that keeps the original base name and extension.
func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir upload dir: %w", err)
	}

	base := filepath.Base(fh.Filename)
	target := filepath.Join(s.uploadDir, uuid.NewString()[:8]+"_"+base)

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", base, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func formInt(r *http.Request, key string) int {
	v := r.FormValue(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1 // out of range, rejected by Knobs.Validate
	}
	return n
}
