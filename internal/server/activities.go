package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/drew/internal/store"
)

// ActivitySearcher answers activity queries.
type ActivitySearcher interface {
	Search(ctx context.Context, query string, limit int, f store.ActivityFilters) ([]store.Activity, error)
}

type searchRequest struct {
	Query   string                `json:"query"`
	Limit   int                   `json:"limit"`
	Filters store.ActivityFilters `json:"filters"`
}

type ActivitiesHandler struct {
	search       ActivitySearcher
	defaultLimit int
}

func (h *ActivitiesHandler) Register(g *echo.Group) {
	g.POST("/search", h.searchActivities)
}

func (h *ActivitiesHandler) searchActivities(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if req.Limit <= 0 {
		req.Limit = h.defaultLimit
	}
	results, err := h.search.Search(c.Request().Context(), req.Query, req.Limit, req.Filters)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if results == nil {
		results = []store.Activity{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"query": req.Query, "results": results})
}
