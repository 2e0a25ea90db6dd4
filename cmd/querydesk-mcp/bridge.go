package main

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
	"github.com/soyeahso/querydesk/internal/tool"
	"github.com/soyeahso/querydesk/internal/version"
)

// newServer registers every tool of every profile. A name already taken
// by an earlier profile, in sorted profile order, is skipped.
func newServer(registries map[string]*tool.Registry, previewRows int, caller domain.Identity, log *logging.Logger) *server.MCPServer {
	s := server.NewMCPServer("querydesk", version.Version, server.WithToolCapabilities(false))
	registerTools(s, registries, previewRows, caller, log)
	return s
}

func registerTools(s *server.MCPServer, registries map[string]*tool.Registry, previewRows int, caller domain.Identity, log *logging.Logger) []string {
	profiles := make([]string, 0, len(registries))
	for p := range registries {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)

	seen := make(map[string]bool)
	var names []string
	for _, p := range profiles {
		reg := registries[p]
		for _, t := range reg.All() {
			if seen[t.Name()] {
				log.Warn().Str("tool", t.Name()).Str("profile", p).Msg("duplicate tool name skipped")
				continue
			}
			seen[t.Name()] = true
			s.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Parameters()),
				toolHandler(reg, t.Name(), previewRows, caller))
			names = append(names, t.Name())
		}
	}
	log.Info().Strs("tools", names).Msg("mcp tools registered")
	return names
}

// toolHandler dispatches through the registry and renders the result as
// the same text the orchestrator feeds the model.
func toolHandler(reg *tool.Registry, name string, previewRows int, caller domain.Identity) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := reg.Dispatch(ctx, name, req.GetArguments(), caller)
		text := agent.RenderToolResult(res, previewRows)
		if !res.Success {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}
