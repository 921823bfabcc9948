package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

const defaultSearchLimit = 5

// SearchActivitiesTool handles the search_activities MCP tool.
type SearchActivitiesTool struct {
	toolset *tools.Toolset
}

func NewSearchActivitiesTool(ts *tools.Toolset) *SearchActivitiesTool {
	return &SearchActivitiesTool{toolset: ts}
}

func (t *SearchActivitiesTool) Definition() mcp.Tool {
	return mcp.NewTool(tools.ToolSearchActivities,
		mcp.WithDescription("Search bookable activities with a natural language query. "+
			"Results are ranked by semantic similarity; keyword matching is used when embeddings are unavailable."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What the group is looking for, including location, size and budget")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default: 5)")),
		mcp.WithString("city", mcp.Description("Only activities in this city")),
		mcp.WithString("state", mcp.Description("Only activities in this state")),
		mcp.WithString("category", mcp.Description("Only activities in this category")),
		mcp.WithNumber("group_size", mcp.Description("Number of participants the activity must accommodate")),
		mcp.WithNumber("max_price", mcp.Description("Maximum price per person")),
	)
}

func (t *SearchActivitiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	size := req.GetInt("group_size", 0)
	filters := store.ActivityFilters{
		City:     req.GetString("city", ""),
		State:    req.GetString("state", ""),
		Category: req.GetString("category", ""),
		MinGroup: size,
		MaxGroup: size,
		MaxPrice: req.GetFloat("max_price", 0),
	}
	results := t.toolset.SearchActivities(ctx, tools.ToolContext{}, query, filters, limit)
	return mcp.NewToolResultText(tools.FormatSearchResults(query, results)), nil
}

// GetActivityTool handles the get_activity MCP tool.
type GetActivityTool struct {
	toolset *tools.Toolset
}

func NewGetActivityTool(ts *tools.Toolset) *GetActivityTool {
	return &GetActivityTool{toolset: ts}
}

func (t *GetActivityTool) Definition() mcp.Tool {
	return mcp.NewTool("get_activity",
		mcp.WithDescription("Fetch the full record of one activity, including its itinerary and offerings."),
		mcp.WithString("activity_id", mcp.Required(), mcp.Description("Activity ID")),
	)
}

func (t *GetActivityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("activity_id", "")
	if id == "" {
		return mcp.NewToolResultError("'activity_id' is required"), nil
	}
	a, err := t.toolset.GetActivity(ctx, tools.ToolContext{}, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("activity %s not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load activity: %v", err)), nil
	}
	return jsonResult(a)
}

// ReflectTool handles the reflect_on_activity MCP tool.
type ReflectTool struct {
	toolset *tools.Toolset
}

func NewReflectTool(ts *tools.Toolset) *ReflectTool {
	return &ReflectTool{toolset: ts}
}

func (t *ReflectTool) Definition() mcp.Tool {
	return mcp.NewTool(tools.ToolReflectOnActivity,
		mcp.WithDescription("Score how well an activity fits a group's requirements and list strengths and concerns."),
		mcp.WithString("activity_id", mcp.Required(), mcp.Description("Activity ID")),
		mcp.WithNumber("group_size", mcp.Description("Number of participants")),
		mcp.WithNumber("budget", mcp.Description("Budget per person")),
		mcp.WithString("location", mcp.Description("Preferred city or region")),
	)
}

func (t *ReflectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("activity_id", "")
	if id == "" {
		return mcp.NewToolResultError("'activity_id' is required"), nil
	}
	a, err := t.toolset.GetActivity(ctx, tools.ToolContext{}, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("activity %s not found: %v", id, err)), nil
	}
	requirements := map[string]interface{}{}
	if size := req.GetInt("group_size", 0); size > 0 {
		requirements["groupSize"] = size
	}
	if budget := req.GetFloat("budget", 0); budget > 0 {
		requirements["budget"] = budget
	}
	if loc := req.GetString("location", ""); loc != "" {
		requirements["location"] = loc
	}
	return mcp.NewToolResultText(tools.FormatReflection(a, tools.Reflect(a, requirements))), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
