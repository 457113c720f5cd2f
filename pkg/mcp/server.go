// Package mcp exposes the tool registry over the Model Context Protocol so
// external MCP clients can call the market-data tools directly. Calls go
// through the same dispatch path as model-initiated invocations, so rate
// limits, caching and validation all apply.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/everme/stockagent/pkg/tools"
)

// Server wraps the mcp-go server around a tool registry.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server exposing every registered tool.
func NewServer(name, version string, registry *tools.Registry) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
	}
	for _, def := range registry.Definitions() {
		s.addTool(registry, def.Function.Name, def.Function.Description, def.Function.Parameters)
	}
	return s
}

func (s *Server) addTool(registry *tools.Registry, name, description string, schema any) {
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = []byte(`{"type":"object"}`)
	}
	tool := mcp.NewToolWithRawSchema(name, description, raw)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		result := registry.Dispatch(ctx, name, args)

		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError("tool result could not be serialized"), nil
		}
		if result.IsError() {
			return mcp.NewToolResultError(string(payload)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

// ServeStdio starts the server on Stdio and blocks until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
