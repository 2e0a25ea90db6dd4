package main

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
	"github.com/soyeahso/querydesk/internal/tool"
)

func echoTool(name string) tool.Tool {
	return &tool.Func{
		ToolName:        name,
		ToolDescription: "Echo the caller and key.",
		Schema:          tool.Schema(tool.Param{Name: "key", Type: "string", Required: true}),
		Run: func(ctx context.Context, args map[string]any, caller domain.Identity) domain.ToolResult {
			key, _ := args["key"].(string)
			if key == "" {
				return domain.NewFailure("key is required")
			}
			return domain.NewSuccess(domain.KindTabular, domain.TabularPayload{
				Columns: []string{"caller", "key"},
				Rows:    [][]any{{caller.UserID, key}},
			}, "echo "+key, 1)
		},
	}
}

func registry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	reg, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	return reg
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolHandlerRendersSuccess(t *testing.T) {
	reg := registry(t, echoTool("echo"))
	h := toolHandler(reg, "echo", 20, domain.Identity{UserID: "mcp"})

	res, err := h(context.Background(), callRequest("echo", map[string]any{"key": "orders"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := textOf(t, res)
	assert.Contains(t, text, "1 row(s).")
	assert.Contains(t, text, "mcp | orders")
	assert.Contains(t, text, "Query: echo orders")
}

func TestToolHandlerReportsFailure(t *testing.T) {
	reg := registry(t, echoTool("echo"))
	h := toolHandler(reg, "echo", 20, domain.Identity{})

	res, err := h(context.Background(), callRequest("echo", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: key is required", textOf(t, res))
}

func TestRegisterToolsSkipsDuplicates(t *testing.T) {
	s := server.NewMCPServer("test", "0")
	names := registerTools(s, map[string]*tool.Registry{
		"sql":       registry(t, echoTool("shared"), echoTool("sql_only")),
		"documents": registry(t, echoTool("shared"), echoTool("docs_only")),
	}, 20, domain.Identity{}, logging.New(nil, "silent"))

	assert.Equal(t, []string{"shared", "docs_only", "sql_only"}, names)
}
