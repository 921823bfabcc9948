package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/drew/internal/agent/core"
	"github.com/mohammad-safakhou/drew/internal/threads"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var httpTracer = otel.Tracer("drew/internal/server")

// Orchestrator runs the agent chain.
type Orchestrator interface {
	Run(ctx context.Context, prompt, userID, projectID string, opts ...core.RunOption) core.Result
	Stream(ctx context.Context, prompt, userID, projectID string, opts ...core.RunOption) <-chan core.Event
}

type orchestrationRequest struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	// ThreadID, when set, seeds the run with the thread's context and records the
	// exchange afterwards.
	ThreadID string `json:"threadId"`
}

type OrchestrationsHandler struct {
	orch          Orchestrator
	threads       ThreadService
	recent        int
	streamEnabled bool
	logger        *log.Logger
}

func (h *OrchestrationsHandler) Register(g *echo.Group) {
	g.POST("", h.run)
	g.POST("/stream", h.stream)
}

func (h *OrchestrationsHandler) bind(c echo.Context) (orchestrationRequest, error) {
	var req orchestrationRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "prompt required")
	}
	if req.UserID == "" || req.ProjectID == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "userId and projectId required")
	}
	if req.ThreadID != "" && h.threads == nil {
		return req, echo.NewHTTPError(http.StatusServiceUnavailable, "threads unavailable")
	}
	return req, nil
}

// history loads the thread context for req, if it names a thread.
func (h *OrchestrationsHandler) history(ctx context.Context, req orchestrationRequest) ([]core.RunOption, error) {
	if req.ThreadID == "" {
		return nil, nil
	}
	actx, err := h.threads.ContextForAgent(ctx, req.ThreadID, h.recent)
	if errors.Is(err, threads.ErrThreadNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	if err != nil {
		return nil, err
	}
	return []core.RunOption{core.WithHistory(actx.History())}, nil
}

func (h *OrchestrationsHandler) record(ctx context.Context, req orchestrationRequest, res core.Result) {
	if req.ThreadID == "" {
		return
	}
	meta := map[string]interface{}{
		"runId":               res.RunID,
		"recommendationCount": len(res.Recommendations),
		"agentsUsed":          res.AgentsUsed,
	}
	if err := h.threads.AppendExchange(ctx, req.ThreadID, req.Prompt, res.FinalResponse, meta); err != nil {
		h.logger.Printf("thread %s: record exchange for run %s: %v", req.ThreadID, res.RunID, err)
	}
}

func (h *OrchestrationsHandler) run(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	ctx, span := httpTracer.Start(c.Request().Context(), "OrchestrationsHandler.run")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID), attribute.String("project_id", req.ProjectID))

	opts, err := h.history(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	res := h.orch.Run(ctx, req.Prompt, req.UserID, req.ProjectID, opts...)
	h.record(ctx, req, res)
	return c.JSON(http.StatusOK, res)
}

func (h *OrchestrationsHandler) stream(c echo.Context) error {
	if !h.streamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run stream disabled")
	}
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	ctx, span := httpTracer.Start(c.Request().Context(), "OrchestrationsHandler.stream")
	defer span.End()

	opts, err := h.history(ctx, req)
	if err != nil {
		return err
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeFailed := false
	for ev := range h.orch.Stream(ctx, req.Prompt, req.UserID, req.ProjectID, opts...) {
		if ev.Type == core.EventComplete && ev.Result != nil {
			h.record(ctx, req, *ev.Result)
		}
		if writeFailed {
			continue
		}
		if err := writeEvent(resp, ev); err != nil {
			// client went away; the request context cancels the run and the channel drains
			span.RecordError(err)
			writeFailed = true
			continue
		}
		flusher.Flush()
	}
	return nil
}

func writeEvent(w http.ResponseWriter, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + ev.Type + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}
