package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

// CreateRecommendationTool handles the create_recommendation MCP tool.
type CreateRecommendationTool struct {
	toolset *tools.Toolset
}

func NewCreateRecommendationTool(ts *tools.Toolset) *CreateRecommendationTool {
	return &CreateRecommendationTool{toolset: ts}
}

func (t *CreateRecommendationTool) Definition() mcp.Tool {
	return mcp.NewTool(tools.ToolCreateRecommendation,
		mcp.WithDescription("Recommend an activity within a user's project. Calling it again for the same "+
			"activity and project updates the existing recommendation."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the project")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project that receives the recommendation")),
		mcp.WithString("activity_id", mcp.Required(), mcp.Description("Activity to recommend")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the activity suits the group")),
		mcp.WithNumber("score", mcp.Description("Match score between 0 and 1")),
		mcp.WithString("customized_title", mcp.Description("Title tailored to the group's occasion")),
		mcp.WithString("customized_description", mcp.Description("Description tailored to the group's needs")),
	)
}

func (t *CreateRecommendationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tc := tools.ToolContext{
		UserID:    req.GetString("user_id", ""),
		ProjectID: req.GetString("project_id", ""),
	}
	activityID := req.GetString("activity_id", "")
	reason := req.GetString("reason", "")
	var missing []string
	for _, arg := range [][2]string{{"user_id", tc.UserID}, {"project_id", tc.ProjectID}, {"activity_id", activityID}, {"reason", reason}} {
		if arg[1] == "" {
			missing = append(missing, arg[0])
		}
	}
	if len(missing) > 0 {
		return mcp.NewToolResultError("missing required arguments: " + strings.Join(missing, ", ")), nil
	}

	a, err := t.toolset.GetActivity(ctx, tc, activityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("activity %s not found: %v", activityID, err)), nil
	}
	rec, err := t.toolset.CreateRecommendation(ctx, tc, a, reason,
		req.GetFloat("score", 0),
		req.GetString("customized_title", ""),
		req.GetString("customized_description", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create recommendation: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created recommendation: %s (ID: %s)", rec.Title, rec.ID)), nil
}

// GetRecommendationTool handles the get_recommendation MCP tool.
type GetRecommendationTool struct {
	toolset *tools.Toolset
}

func NewGetRecommendationTool(ts *tools.Toolset) *GetRecommendationTool {
	return &GetRecommendationTool{toolset: ts}
}

func (t *GetRecommendationTool) Definition() mcp.Tool {
	return mcp.NewTool("get_recommendation",
		mcp.WithDescription("Fetch a recommendation owned by the user."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the recommendation")),
		mcp.WithString("recommendation_id", mcp.Required(), mcp.Description("Recommendation ID")),
	)
}

func (t *GetRecommendationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tc := tools.ToolContext{UserID: req.GetString("user_id", "")}
	id := req.GetString("recommendation_id", "")
	if tc.UserID == "" || id == "" {
		return mcp.NewToolResultError("'user_id' and 'recommendation_id' are required"), nil
	}
	rec, err := t.toolset.RetrieveRecommendation(ctx, tc, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("recommendation %s not found for this user", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load recommendation: %v", err)), nil
	}
	return jsonResult(rec)
}

// SearchOfferingsTool handles the search_offerings MCP tool.
type SearchOfferingsTool struct {
	toolset *tools.Toolset
}

func NewSearchOfferingsTool(ts *tools.Toolset) *SearchOfferingsTool {
	return &SearchOfferingsTool{toolset: ts}
}

func (t *SearchOfferingsTool) Definition() mcp.Tool {
	return mcp.NewTool("search_offerings",
		mcp.WithDescription("Find add-on offerings (catering, transport, photography and so on) by keyword."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Keyword to match against offering descriptions")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default: 5)")),
	)
}

func (t *SearchOfferingsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	found := t.toolset.SearchOfferings(ctx, tools.ToolContext{}, query, limit)
	if len(found) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No offerings found for %q.", query)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d offerings:\n", len(found))
	for i, o := range found {
		fmt.Fprintf(&b, "%d. %s (ID: %s)\n", i+1, o.ShortDescription, o.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}
