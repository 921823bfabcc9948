package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/drew/internal/threads"
)

// ThreadService is the conversation thread API the handlers use.
type ThreadService interface {
	CreateThread(ctx context.Context, in threads.CreateThreadInput) (threads.Thread, error)
	GetThread(ctx context.Context, id string) (threads.Thread, error)
	UpdateThread(ctx context.Context, id string, upd threads.ThreadUpdate) (threads.Thread, error)
	AddMessage(ctx context.Context, threadID string, in threads.NewMessage) (threads.Message, error)
	GetMessages(ctx context.Context, threadID string, q threads.MessageQuery) ([]threads.Message, error)
	GetSummaries(ctx context.Context, threadID string) ([]threads.Summary, error)
	ContextForAgent(ctx context.Context, threadID string, recent int) (threads.AgentContext, error)
	SearchMessages(ctx context.Context, q threads.SearchQuery) ([]threads.SearchHit, error)
	AppendExchange(ctx context.Context, threadID, prompt, reply string, metadata map[string]interface{}) error
}

type ThreadsHandler struct {
	threads ThreadService
}

func (h *ThreadsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.POST("/search", h.search)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.POST("/:id/messages", h.addMessage)
	g.GET("/:id/messages", h.messages)
	g.GET("/:id/context", h.agentContext)
	g.GET("/:id/summaries", h.summaries)
}

func threadError(err error) error {
	if errors.Is(err, threads.ErrThreadNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return err
}

func (h *ThreadsHandler) create(c echo.Context) error {
	var in threads.CreateThreadInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.threads.CreateThread(c.Request().Context(), in)
	if errors.Is(err, threads.ErrThreadNotFound) {
		return echo.NewHTTPError(http.StatusBadRequest, "parent thread not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *ThreadsHandler) get(c echo.Context) error {
	t, err := h.threads.GetThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *ThreadsHandler) update(c echo.Context) error {
	var upd threads.ThreadUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.threads.UpdateThread(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *ThreadsHandler) addMessage(c echo.Context) error {
	var in threads.NewMessage
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(in.Role) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role required")
	}
	msg, err := h.threads.AddMessage(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *ThreadsHandler) messages(c echo.Context) error {
	q := threads.MessageQuery{
		Skip:                     queryInt(c, "skip", 0),
		Limit:                    queryInt(c, "limit", 100),
		IncludeSubThreadMessages: c.QueryParam("includeSubthreads") == "true",
	}
	msgs, err := h.threads.GetMessages(c.Request().Context(), c.Param("id"), q)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *ThreadsHandler) agentContext(c echo.Context) error {
	actx, err := h.threads.ContextForAgent(c.Request().Context(), c.Param("id"), queryInt(c, "recent", 0))
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, actx)
}

func (h *ThreadsHandler) summaries(c echo.Context) error {
	sums, err := h.threads.GetSummaries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, sums)
}

func (h *ThreadsHandler) search(c echo.Context) error {
	var q threads.SearchQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(q.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if q.ThreadID == "" && q.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "threadId or userId required")
	}
	hits, err := h.threads.SearchMessages(c.Request().Context(), q)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, hits)
}

func queryInt(c echo.Context, name string, def int) int {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
