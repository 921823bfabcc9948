package mcptools

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

const instructions = "Tools for planning group activities: search the activity catalogue, " +
	"check how well an activity fits a group, and record recommendations in a user's project."

// NewServer builds an MCP server exposing the activity toolset.
func NewServer(ts *tools.Toolset, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"drew",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	search := NewSearchActivitiesTool(ts)
	s.AddTool(search.Definition(), search.Handle)

	get := NewGetActivityTool(ts)
	s.AddTool(get.Definition(), get.Handle)

	reflectTool := NewReflectTool(ts)
	s.AddTool(reflectTool.Definition(), reflectTool.Handle)

	create := NewCreateRecommendationTool(ts)
	s.AddTool(create.Definition(), create.Handle)

	getRec := NewGetRecommendationTool(ts)
	s.AddTool(getRec.Definition(), getRec.Handle)

	offerings := NewSearchOfferingsTool(ts)
	s.AddTool(offerings.Definition(), offerings.Handle)

	return s
}

// ServeStdio serves s over stdin/stdout until the input closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
