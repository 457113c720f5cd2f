package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/everme/stockagent/pkg/cache"
	"github.com/everme/stockagent/pkg/marketdata"
	"github.com/everme/stockagent/pkg/ratelimit"
	"github.com/everme/stockagent/pkg/tools"
)

type staticService struct{}

func (staticService) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	return &marketdata.Quote{Symbol: symbol, Price: 100, Currency: "USD"}, nil
}

func (staticService) History(_ context.Context, symbol, period string) (*marketdata.Series, error) {
	return &marketdata.Series{Symbol: symbol, Period: period}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	limiter := ratelimit.NewRegistry()
	limiter.Configure(ratelimit.ResourceMarketData, ratelimit.BucketConfig{Capacity: 100, Window: time.Minute})

	registry := tools.NewRegistry(limiter, cache.New[tools.Result]())
	tools.RegisterDefaults(registry, staticService{})
	return NewServer("stockagent-test", "0.1.0", registry)
}

func TestServerListAndCall(t *testing.T) {
	s := newTestServer(t)

	httpServer := mcpserver.NewTestStreamableHTTPServer(s.mcpServer)
	defer httpServer.Close()

	c, err := client.NewStreamableHttpClient(httpServer.URL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "test-client", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	listed, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(listed.Tools) != 8 {
		t.Fatalf("expected 8 tools, got %d", len(listed.Tools))
	}

	callReq := mcpgo.CallToolRequest{}
	callReq.Params.Name = "calculate"
	callReq.Params.Arguments = map[string]any{"expression": "2 + 2"}
	result, err := c.CallTool(ctx, callReq)
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	text := textContent(result)
	if !strings.Contains(text, "4") {
		t.Errorf("result text = %q", text)
	}
}

func TestServerToolError(t *testing.T) {
	s := newTestServer(t)

	httpServer := mcpserver.NewTestStreamableHTTPServer(s.mcpServer)
	defer httpServer.Close()

	c, err := client.NewStreamableHttpClient(httpServer.URL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "test-client", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	callReq := mcpgo.CallToolRequest{}
	callReq.Params.Name = "calculate"
	callReq.Params.Arguments = map[string]any{"expression": "import os"}
	result, err := c.CallTool(ctx, callReq)
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !result.IsError {
		t.Fatal("rejected expression must surface as an error result")
	}
}

func textContent(result *mcpgo.CallToolResult) string {
	var parts []string
	for _, item := range result.Content {
		switch content := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, content.Text)
		case *mcpgo.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
