// Command stockagent is a market-data chat assistant. It answers questions
// about stock prices by letting a model call live market-data tools, and can
// also expose those tools to MCP clients.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/everme/stockagent/pkg/agent"
	"github.com/everme/stockagent/pkg/cache"
	"github.com/everme/stockagent/pkg/config"
	"github.com/everme/stockagent/pkg/history"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/marketdata"
	stockmcp "github.com/everme/stockagent/pkg/mcp"
	"github.com/everme/stockagent/pkg/ratelimit"
	"github.com/everme/stockagent/pkg/telemetry"
	"github.com/everme/stockagent/pkg/tools"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		configPath = flag.String("config", "", "path to YAML config file")
		model      = flag.String("model", "", "override the model identifier")
		session    = flag.String("session", "default", "conversation session id")
	)
	flag.Usage = printUsage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *model != "" {
		cfg.LLM.Model = *model
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
		})
		if err != nil {
			fatal(err)
		}
		defer shutdown(context.Background())
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "", "chat":
		err = runChat(ctx, cfg, *session)
	case "ask":
		question := strings.Join(flag.Args()[1:], " ")
		if question == "" {
			err = fmt.Errorf("usage: stockagent ask <question>")
		} else {
			err = runAsk(ctx, cfg, *session, question)
		}
	case "mcp":
		err = runMCP(cfg)
	case "version":
		fmt.Println("stockagent " + version)
	case "help":
		printUsage()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fatal(err)
	}
}

// app bundles the wired components for one process.
type app struct {
	orchestrator *agent.Orchestrator
	registry     *tools.Registry
	store        history.Store
}

func buildApp(cfg *config.Config) (*app, error) {
	limiter := ratelimit.NewRegistry()
	limiter.Configure(ratelimit.ResourceMarketData, ratelimit.BucketConfig{
		Capacity: cfg.RateLimit.MarketData.Capacity,
		Window:   cfg.RateLimit.MarketData.Window,
	})
	limiter.Configure(ratelimit.ResourceLLM, ratelimit.BucketConfig{
		Capacity: cfg.RateLimit.LLM.Capacity,
		Window:   cfg.RateLimit.LLM.Window,
	})

	yahoo := marketdata.NewYahooClient(
		marketdata.WithYahooBaseURL(cfg.MarketData.BaseURL),
		marketdata.WithYahooTimeout(cfg.MarketData.Timeout),
	)

	for name, symbol := range cfg.Aliases {
		marketdata.RegisterAlias(name, symbol)
	}

	registry := tools.NewRegistry(limiter, cache.New[tools.Result]())
	tools.RegisterDefaults(registry, yahoo)

	provider := llm.NewOpenRouter(cfg.LLM.APIKey,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithAppInfo(cfg.LLM.AppURL, cfg.LLM.AppName),
	)
	gateway := agent.NewGateway(provider, limiter,
		agent.WithModel(cfg.LLM.Model),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
	)

	var orchOpts []agent.OrchestratorOption
	if cfg.Telemetry.Enabled {
		metrics, err := telemetry.NewTurnMetrics()
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, agent.WithMetrics(metrics))
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		orchestrator: agent.NewOrchestrator(gateway, registry, orchOpts...),
		registry:     registry,
		store:        store,
	}, nil
}

func openStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Backend {
	case "", "memory":
		return history.NewInMemoryStore(), nil
	case "sqlite":
		return history.OpenSQLiteStore(cfg.History.Path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

func runChat(ctx context.Context, cfg *config.Config, session string) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	fmt.Println("stockagent — ask about stock prices, trends and comparisons. Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/clear" {
			if err := a.store.Clear(ctx, session); err != nil {
				return err
			}
			fmt.Println("conversation cleared")
			continue
		}
		if err := runTurn(ctx, a, session, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func runAsk(ctx context.Context, cfg *config.Config, session, question string) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	return runTurn(ctx, a, session, question)
}

func runTurn(ctx context.Context, a *app, session, userMessage string) error {
	stored, err := a.store.Messages(ctx, session)
	if err != nil {
		return err
	}
	prior := history.ToChat(stored)

	var answered bool
	for ev := range a.orchestrator.Run(ctx, prior, userMessage) {
		switch e := ev.(type) {
		case agent.StatusEvent:
			fmt.Fprintf(os.Stderr, "  [%s]\n", e.Message)
		case agent.ToolOutcomeEvent:
			if e.Result.IsError() {
				fmt.Fprintf(os.Stderr, "  [%s: %v]\n", e.Tool, e.Result["error"])
			}
		case agent.TextChunkEvent:
			fmt.Print(e.Text)
			answered = true
		case agent.DoneEvent:
			fmt.Println()
			if err := persistTurn(ctx, a.store, session, e.History, len(prior)); err != nil {
				return err
			}
		case agent.ErrorEvent:
			if answered {
				fmt.Println()
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", e.Err)
		}
	}
	return nil
}

// persistTurn stores the messages the turn added beyond the prior history.
func persistTurn(ctx context.Context, store history.Store, session string, final []llm.Message, priorLen int) error {
	if priorLen > len(final) {
		return nil
	}
	for _, msg := range history.FromChat(final[priorLen:]) {
		if err := store.Append(ctx, session, msg); err != nil {
			return err
		}
	}
	return nil
}

func runMCP(cfg *config.Config) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	return stockmcp.NewServer("stockagent", version, a.registry).ServeStdio()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `stockagent — market-data chat assistant

Usage:
  stockagent [flags] [command]

Commands:
  chat          interactive chat session (default)
  ask <text>    answer a single question and exit
  mcp           serve the market-data tools over MCP stdio
  version       print version
  help          print this help

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  STOCKAGENT_LLM_API_KEY   OpenRouter API key (or llm.api_key in config)
`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "stockagent: %v\n", err)
	os.Exit(1)
}
