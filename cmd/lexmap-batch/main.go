// Command lexmap-batch processes a directory of study documents from the
// command line, writing .mmd artifacts and printing a result summary.
//
// By default documents run through the parallel scheduler. With -sequential
// each document runs on the checkpointable state machine instead, so an
// interrupted run resumes from its last completed step.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lexmap/lexmap/artifacts"
	"github.com/lexmap/lexmap/config"
	"github.com/lexmap/lexmap/extract"
	"github.com/lexmap/lexmap/llm"
	"github.com/lexmap/lexmap/pipeline"
	"github.com/lexmap/lexmap/seqflow"
	"github.com/lexmap/lexmap/store"
)

func main() {
	var (
		inDir      = flag.String("in", ".", "directory of documents to process")
		configPath = flag.String("config", env("LEXMAP_CONFIG", "lexmap.yaml"), "path to YAML config")
		sequential = flag.Bool("sequential", false, "process one step at a time with checkpoints")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		slog.Error("OPENAI_API_KEY (or LEXMAP_API_KEY) is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	paths, err := collectDocuments(*inDir)
	if err != nil {
		slog.Error("scan input directory", "error", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		slog.Error("no supported documents found", "dir", *inDir,
			"formats", strings.Join(extract.SupportedFormats(), ", "))
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)

	extractor := extract.New(extract.Config{Logger: logger})
	sink := store.NewSink(st, artifacts.NewWriter(cfg.OutputDir), logger)
	emitter := progressLogger(logger)

	pcfg := pipeline.Config{
		MaxAttempts:          cfg.MaxAttempts,
		MaxPartsInFlight:     cfg.MaxPartsInFlight,
		MaxDocumentsInFlight: cfg.MaxDocumentsInFlight,
		RetryDelay:           cfg.RetryDelay,
		ErrorRetryDelay:      cfg.ErrorRetryDelay,
		CallTimeout:          cfg.CallTimeout,
		Logger:               logger,
	}

	divider := llm.NewDivider(roleClient(cfg.Divider, cfg, logger))
	generator := llm.NewGenerator(roleClient(cfg.Generator, cfg, logger))
	reviewer := llm.NewReviewer(roleClient(cfg.Reviewer, cfg, logger))

	var jobs []*pipeline.Job
	if *sequential {
		jobs = runSequential(ctx, paths, seqflow.Options{
			Extractor:     sourceExtractor{extractor},
			Divider:       divider,
			Generator:     generator,
			Reviewer:      reviewer,
			Persister:     sink,
			Config:        pcfg,
			Emitter:       emitter,
			CheckpointDir: cfg.CheckpointDir,
		}, st, logger)
	} else {
		jobs = runParallel(ctx, paths, extractor, divider, generator, reviewer, sink, st, pcfg, emitter, logger)
	}

	printSummary(jobs)
	for _, job := range jobs {
		if job.Status != pipeline.StatusComplete {
			os.Exit(1)
		}
	}
}

// runParallel extracts everything up front and hands the batch to the
// scheduler.
func runParallel(ctx context.Context, paths []string, extractor *extract.Extractor,
	divider pipeline.Divider, generator pipeline.Generator, reviewer pipeline.Reviewer,
	sink *store.Sink, st *store.Store, pcfg pipeline.Config,
	emitter pipeline.Emitter, logger *slog.Logger) []*pipeline.Job {

	var jobs []*pipeline.Job
	for _, path := range paths {
		id := uuid.NewString()
		if err := st.InsertJob(ctx, &store.JobRecord{ID: id, Source: path}); err != nil {
			logger.Error("insert job", "path", path, "error", err)
			continue
		}
		src, err := extractor.Extract(ctx, path)
		if err != nil {
			logger.Error("extract failed", "path", path, "error", err)
			st.UpdateJobStatus(ctx, id, pipeline.StatusFailed, err.Error(), 0)
			jobs = append(jobs, &pipeline.Job{
				ID: id, Status: pipeline.StatusFailed, ErrorMessage: err.Error(),
			})
			continue
		}
		st.UpdateJobMeta(ctx, id, src.Domain, src.Subject)
		jobs = append(jobs, &pipeline.Job{
			ID: id, Domain: src.Domain, Subject: src.Subject, Body: src.Body,
		})
	}

	var runnable []*pipeline.Job
	for _, j := range jobs {
		if !j.Status.Terminal() {
			runnable = append(runnable, j)
		}
	}
	if len(runnable) > 0 {
		orch := pipeline.NewOrchestrator(divider, generator, reviewer, sink, pcfg, emitter)
		orch.RunBatch(ctx, runnable)
	}
	for _, j := range jobs {
		st.UpdateJobStatus(ctx, j.ID, j.Status, j.ErrorMessage, len(j.Parts))
	}
	return jobs
}

// runSequential drives one state machine per document, resuming from
// checkpoints left by earlier interrupted runs. The job ID is derived from
// the file name so a rerun finds its own checkpoint.
func runSequential(ctx context.Context, paths []string, opts seqflow.Options,
	st *store.Store, logger *slog.Logger) []*pipeline.Job {

	var jobs []*pipeline.Job
	for _, path := range paths {
		id := artifacts.Slug(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if job, _ := st.GetJob(ctx, id); job == nil {
			st.InsertJob(ctx, &store.JobRecord{ID: id, Source: path})
		}

		m, err := seqflow.Resume(id, path, opts)
		if err != nil {
			logger.Error("resume checkpoint", "path", path, "error", err)
			jobs = append(jobs, &pipeline.Job{
				ID: id, Status: pipeline.StatusFailed, ErrorMessage: err.Error(),
			})
			continue
		}

		job, err := m.Run(ctx)
		if ctx.Err() != nil {
			// Interrupted: the checkpoint holds the position for the next run.
			logger.Info("interrupted, checkpoint saved", "job_id", id)
			jobs = append(jobs, job)
			break
		}
		if err != nil {
			logger.Error("checkpoint write failed", "job_id", id, "error", err)
		}
		state := m.State()
		st.UpdateJobMeta(ctx, id, state.Domain, state.Subject)
		st.UpdateJobStatus(ctx, id, job.Status, job.ErrorMessage, len(job.Parts))
		jobs = append(jobs, job)
	}
	return jobs
}

// progressLogger adapts the emitter interface to slog output.
func progressLogger(logger *slog.Logger) pipeline.Emitter {
	return pipeline.EmitterFunc(func(ev pipeline.Event) {
		logger.Info(ev.Message,
			"job_id", ev.JobID, "stage", ev.Stage, "part", ev.PartNumber,
			"attempt", ev.Attempt, "level", ev.Level)
	})
}

// sourceExtractor adapts extract.Extractor to the state machine's interface.
type sourceExtractor struct {
	x *extract.Extractor
}

func (s sourceExtractor) Extract(ctx context.Context, source string) (string, string, string, error) {
	src, err := s.x.Extract(ctx, source)
	if err != nil {
		return "", "", "", err
	}
	return src.Domain, src.Subject, src.Body, nil
}

// collectDocuments lists supported files in dir, sorted by name.
func collectDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := extract.Detect(e.Name()); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func printSummary(jobs []*pipeline.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSUBJECT\tSTATUS\tPARTS\tAPPROVED\tERROR")
	for _, j := range jobs {
		if j == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			j.ID, j.Subject, j.Status, len(j.Parts), j.ApprovedCount(), j.ErrorMessage)
	}
	w.Flush()
}

func roleClient(role config.Role, cfg *config.Config, logger *slog.Logger) *llm.Client {
	return llm.NewClient(llm.Config{
		BaseURL:     role.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       role.Model,
		Temperature: role.Temperature,
		MaxTokens:   role.MaxTokens,
		RPS:         role.RPS,
		Timeout:     cfg.CallTimeout,
		Logger:      logger,
	})
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
