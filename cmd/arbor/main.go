package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/arbor-ai/arbor/internal/decision"
	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/logging"
	"github.com/arbor-ai/arbor/internal/sandbox"
	"github.com/arbor-ai/arbor/internal/scheduler"
	"github.com/arbor-ai/arbor/internal/server"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/internal/streaming"
	"github.com/arbor-ai/arbor/internal/tools"
	"github.com/arbor-ai/arbor/pkg/mcp"
	"github.com/arbor-ai/arbor/pkg/tool"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "serve over MCP stdio instead of the websocket API")
	flag.Parse()

	if err := run(*mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "arbor: %v\n", err)
		os.Exit(1)
	}
}

func run(mcpMode bool) error {
	cfg := loadConfig()

	logger := newLogger(cfg, mcpMode)
	slog.SetDefault(logger)

	if err := os.MkdirAll(arborDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runStore, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer runStore.Close()
	if err := runStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}

	client, err := llm.NewOpenAIClient(logger)
	if err != nil {
		return err
	}

	analysisDB, err := sql.Open("libsql", "file:"+cfg.AnalysisDBPath)
	if err != nil {
		return fmt.Errorf("open analysis db: %w", err)
	}
	defer analysisDB.Close()

	registry, err := buildRegistry(cfg, client, analysisDB, logger)
	if err != nil {
		return err
	}

	decider, err := decision.NewLLMEngine(client, logger)
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()

	eng, err := engine.New(registry, decider, hub, runStore, logger, engine.Config{
		MaxSteps:           cfg.MaxSteps,
		MaxDecisionRetries: cfg.DecisionRetries,
		StepTimeout:        time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		FatalToolErrors:    cfg.FatalToolErrors,
	})
	if err != nil {
		return err
	}

	if mcpMode {
		logger.Info("starting MCP stdio server")
		return mcp.NewArborServer(mcp.ArborServerDeps{
			Engine:   eng,
			Registry: registry,
			Store:    runStore,
			Logger:   logger,
		}).Serve(ctx)
	}

	sched := scheduler.NewScheduler(eng, logger)
	for _, s := range cfg.Schedules {
		if err := sched.Add(s); err != nil {
			return fmt.Errorf("schedule %q: %w", s.ID, err)
		}
	}
	if len(cfg.Schedules) > 0 {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewServer(eng, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(cfg Config, mcpMode bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	// In MCP mode stdout carries the protocol, so logs always go to stderr.
	out := os.Stdout
	if mcpMode {
		out = os.Stderr
	}
	inner := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// buildRegistry wires the tool set: query tools live on the base branch,
// presentation and delivery tools on the reporting branch.
func buildRegistry(cfg Config, client llm.Client, analysisDB *sql.DB, logger *slog.Logger) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	doc := schemaDoc(cfg)
	if err := registry.Register(tool.BaseBranch, tools.NewSQLTool(analysisDB, client, doc, logger)); err != nil {
		return nil, err
	}

	interpreter := tools.NewInterpreterTool(client, sandbox.NewSubprocessSandbox(), cfg.InterpreterCommand, logger)
	if err := registry.Register(tool.BaseBranch, interpreter); err != nil {
		return nil, err
	}

	err := registry.AddBranch("reporting",
		"Produce the final deliverable. Chart or format the gathered data, then send it if the request asks for delivery.",
		tool.BaseBranch,
		"presentation and delivery tools")
	if err != nil {
		return nil, err
	}

	if err := registry.Register("reporting", tools.NewChartTool(client, logger)); err != nil {
		return nil, err
	}
	if err := registry.Register("reporting", tools.NewFormatterTool(client, logger)); err != nil {
		return nil, err
	}

	if cfg.SMTPHost != "" {
		email := tools.NewEmailTool(client, tools.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, nil, logger)
		if err := registry.Register("reporting", email); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
