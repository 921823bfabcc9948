package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/agent/core"
	"github.com/mohammad-safakhou/drew/internal/embedding"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/search"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"github.com/mohammad-safakhou/drew/internal/threads"
	"github.com/mohammad-safakhou/drew/internal/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the HTTP handlers call.
type Deps struct {
	Orchestrator Orchestrator
	Search       ActivitySearcher
	Threads      ThreadService
	// Metrics serves /metrics; the default prometheus registry when nil.
	Metrics http.Handler
	Logger  *log.Logger
}

// New builds the echo instance with middleware and every route mounted.
func New(cfg *config.Config, deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.General.Debug
	e.Use(middleware.Recover())
	if cfg.General.Debug {
		e.Use(middleware.Logger())
	}
	e.HTTPErrorHandler = errorHandler(logger)

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	api := e.Group("/api")
	oh := &OrchestrationsHandler{
		orch:          deps.Orchestrator,
		threads:       deps.Threads,
		recent:        cfg.Threads.RecentMessageCount,
		streamEnabled: cfg.Server.RunStreamEnabled,
		logger:        logger,
	}
	oh.Register(api.Group("/orchestrations"))

	ah := &ActivitiesHandler{search: deps.Search, defaultLimit: cfg.Search.DefaultLimit}
	ah.Register(api.Group("/activities"))

	if deps.Threads != nil {
		th := &ThreadsHandler{threads: deps.Threads}
		th.Register(api.Group("/threads"))
	}
	return e
}

// errorHandler writes every error as {"error": msg} and logs it.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			if req.Method == http.MethodHead {
				_ = c.NoContent(code)
				return
			}
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
}

// Run wires storage, the LLM provider, search, agents and threads, then serves HTTP
// until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	tele, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tele.Shutdown(shutdownCtx)
	}()

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := store.ConnectRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	embedder := embedding.NewService(provider, cfg.Embedding, nil)
	engine := search.New(st, embedder, cfg.Search, nil)
	toolset := tools.NewToolset(engine, st, nil)
	orch := core.NewOrchestrator(cfg, provider, toolset, nil)

	summarizer := threads.NewSummarizer(provider, cfg.LLM.Routing.Model("summarization"), cfg.Threads.SummarizationThreshold, nil)
	mgr := threads.NewManager(threads.NewRedisStore(rdb, cfg.Threads.KeyPrefix), embedder, summarizer, cfg.Threads, nil)

	e := New(cfg, Deps{
		Orchestrator: orch,
		Search:       engine,
		Threads:      mgr,
		Metrics:      tele.Handler(),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Address)
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
