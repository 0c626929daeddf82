// Command lexmap runs the mindmap-generation HTTP service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/lexmap/lexmap/api"
	"github.com/lexmap/lexmap/artifacts"
	"github.com/lexmap/lexmap/config"
	"github.com/lexmap/lexmap/events"
	"github.com/lexmap/lexmap/extract"
	"github.com/lexmap/lexmap/llm"
	"github.com/lexmap/lexmap/pipeline"
	"github.com/lexmap/lexmap/store"
)

func main() {
	configPath := flag.String("config", env("LEXMAP_CONFIG", "lexmap.yaml"), "path to YAML config")
	flag.Parse()

	logLevel := env("LOG_LEVEL", "info")
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
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

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)

	hub := events.NewHub(logger)

	extractor := extract.New(extract.Config{Logger: logger.With("component", "extract")})

	collab := api.Collaborators{
		Divider:   llm.NewDivider(roleClient(cfg.Divider, cfg, logger, "divider")),
		Generator: llm.NewGenerator(roleClient(cfg.Generator, cfg, logger, "generator")),
		Reviewer:  llm.NewReviewer(roleClient(cfg.Reviewer, cfg, logger, "reviewer")),
	}

	sink := store.NewSink(st, artifacts.NewWriter(cfg.OutputDir), logger.With("component", "sink"))

	pcfg := pipeline.Config{
		MaxAttempts:          cfg.MaxAttempts,
		MaxPartsInFlight:     cfg.MaxPartsInFlight,
		MaxDocumentsInFlight: cfg.MaxDocumentsInFlight,
		RetryDelay:           cfg.RetryDelay,
		ErrorRetryDelay:      cfg.ErrorRetryDelay,
		CallTimeout:          cfg.CallTimeout,
		Logger:               logger.With("component", "pipeline"),
	}

	svc := api.NewService(extractor, collab, sink, st, hub, pcfg, logger.With("component", "service"))
	server := api.NewServer(svc, st, hub, cfg.UploadDir, logger.With("component", "api"))
	router := server.Router()

	// MCP over streamable HTTP, mounted next to the REST API.
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "lexmap", Version: "1.0.0"}, nil)
	server.RegisterMCP(mcpSrv)
	router.Handle("/mcp", mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func roleClient(role config.Role, cfg *config.Config, logger *slog.Logger, name string) *llm.Client {
	return llm.NewClient(llm.Config{
		BaseURL:     role.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       role.Model,
		Temperature: role.Temperature,
		MaxTokens:   role.MaxTokens,
		RPS:         role.RPS,
		Timeout:     cfg.CallTimeout,
		Logger:      logger.With("component", "llm", "role", name),
	})
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
