package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/everme/stockagent/pkg/cache"
	"github.com/everme/stockagent/pkg/errors"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/marketdata"
	"github.com/everme/stockagent/pkg/ratelimit"
	"github.com/everme/stockagent/pkg/tools"
)

type fakeService struct {
	quotes map[string]*marketdata.Quote
	series map[string]*marketdata.Series
}

func (f *fakeService) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no data for symbol %s", symbol)
	}
	return q, nil
}

func (f *fakeService) History(_ context.Context, symbol string, period string) (*marketdata.Series, error) {
	s, ok := f.series[symbol]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no data for symbol %s", symbol)
	}
	out := *s
	out.Period = period
	return &out, nil
}

func newTestOrchestrator(t *testing.T, provider llm.StreamingProvider, svc marketdata.Service) *Orchestrator {
	t.Helper()
	limiter := ratelimit.NewRegistry()
	limiter.Configure(ratelimit.ResourceMarketData, ratelimit.BucketConfig{Capacity: 100, Window: time.Minute})
	limiter.Configure(ratelimit.ResourceLLM, ratelimit.BucketConfig{Capacity: 100, Window: time.Minute})

	registry := tools.NewRegistry(limiter, cache.New[tools.Result]())
	tools.RegisterDefaults(registry, svc)

	return NewOrchestrator(NewGateway(provider, limiter), registry)
}

func collect(t *testing.T, ch <-chan TurnEvent) []TurnEvent {
	t.Helper()
	var events []TurnEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(events))
		}
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestRunSingleToolTurn(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", "get_current_price", `{"ticker": "tesla"}`),
		},
	})
	provider.AddStream("The current price ", "is $248.50.")

	svc := &fakeService{quotes: map[string]*marketdata.Quote{
		"TSLA": {Symbol: "TSLA", Name: "Tesla, Inc.", Price: 248.504, Currency: "USD"},
	}}
	o := newTestOrchestrator(t, provider, svc)

	events := collect(t, o.Run(context.Background(), nil, "what is tesla trading at?"))

	var statuses []string
	var text strings.Builder
	var outcomes []ToolOutcomeEvent
	var done *DoneEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case StatusEvent:
			statuses = append(statuses, e.Message)
		case TextChunkEvent:
			text.WriteString(e.Text)
		case ToolOutcomeEvent:
			outcomes = append(outcomes, e)
		case DoneEvent:
			done = &e
		case ErrorEvent:
			t.Fatalf("unexpected error event: %v", e.Err)
		}
	}

	wantStatuses := []string{
		"Analyzing your question...",
		"Fetching current price: TSLA",
		"Generating response...",
	}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v", statuses)
	}
	for i, want := range wantStatuses {
		if statuses[i] != want {
			t.Errorf("status[%d] = %q, want %q", i, statuses[i], want)
		}
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected one tool outcome, got %d", len(outcomes))
	}
	if outcomes[0].Tool != "get_current_price" {
		t.Errorf("outcome tool = %q", outcomes[0].Tool)
	}
	if outcomes[0].Result["price"] != 248.5 {
		t.Errorf("outcome price = %v", outcomes[0].Result["price"])
	}

	if got := text.String(); got != "The current price is $248.50." {
		t.Errorf("answer text = %q", got)
	}

	if done == nil {
		t.Fatal("turn must end with a done event")
	}
	hist := done.History
	if len(hist) != 2 {
		t.Fatalf("history length = %d", len(hist))
	}
	if hist[0].Role != llm.RoleUser || hist[0].Content != "what is tesla trading at?" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].Role != llm.RoleAssistant || hist[1].Content != "The current price is $248.50." {
		t.Errorf("history[1] = %+v", hist[1])
	}
}

func TestRunEventOrdering(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", "get_current_price", `{"ticker": "TSLA"}`),
			toolCall("call_2", "calculate", `{"expression": "2 + 2"}`),
		},
	})
	provider.AddStream("done")

	svc := &fakeService{quotes: map[string]*marketdata.Quote{
		"TSLA": {Symbol: "TSLA", Price: 250, Currency: "USD"},
	}}
	o := newTestOrchestrator(t, provider, svc)

	events := collect(t, o.Run(context.Background(), nil, "price then math"))

	// Each tool's status precedes its outcome, and the second tool only
	// starts after the first finished.
	var sequence []string
	for _, ev := range events {
		switch e := ev.(type) {
		case StatusEvent:
			sequence = append(sequence, "status:"+e.Message)
		case ToolOutcomeEvent:
			sequence = append(sequence, "outcome:"+e.Tool)
		case TextChunkEvent:
			sequence = append(sequence, "text")
		case DoneEvent:
			sequence = append(sequence, "done")
		}
	}
	want := []string{
		"status:Analyzing your question...",
		"status:Fetching current price: TSLA",
		"outcome:get_current_price",
		"status:Performing calculation: 2 + 2",
		"outcome:calculate",
		"status:Generating response...",
		"text",
		"done",
	}
	if len(sequence) != len(want) {
		t.Fatalf("sequence = %v", sequence)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Errorf("sequence[%d] = %q, want %q", i, sequence[i], want[i])
		}
	}
}

func TestRunToolErrorFedBack(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", "get_current_price", `{"ticker": "UNKNOWN"}`),
		},
	})
	provider.AddStream("I could not find that symbol.")

	o := newTestOrchestrator(t, provider, &fakeService{})
	events := collect(t, o.Run(context.Background(), nil, "price of UNKNOWN?"))

	var outcome *ToolOutcomeEvent
	var done bool
	for _, ev := range events {
		switch e := ev.(type) {
		case ToolOutcomeEvent:
			outcome = &e
		case ErrorEvent:
			t.Fatalf("tool failure must not terminate the turn: %v", e.Err)
		case DoneEvent:
			done = true
		}
	}
	if outcome == nil || !outcome.Result.IsError() {
		t.Fatal("expected an error tool outcome")
	}
	if !done {
		t.Fatal("turn with a failing tool must still complete")
	}

	// The answer call must have seen the tool error as a tool-role message.
	last := provider.Requests[len(provider.Requests)-1]
	var sawToolMsg bool
	for _, m := range last.Messages {
		if m.Role == llm.RoleTool && m.ToolCallID == "call_1" &&
			strings.Contains(m.Content, "error") {
			sawToolMsg = true
		}
	}
	if !sawToolMsg {
		t.Error("tool error result was not fed back to the model")
	}
}

func TestRunNoToolsShortCircuit(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		Content: "Hello! Ask me about stock prices.",
	})

	o := newTestOrchestrator(t, provider, &fakeService{})
	events := collect(t, o.Run(context.Background(), nil, "hi"))

	var statuses []string
	var chunks int
	var text string
	var done *DoneEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case StatusEvent:
			statuses = append(statuses, e.Message)
		case TextChunkEvent:
			chunks++
			text = e.Text
		case DoneEvent:
			done = &e
		}
	}
	// The progress statuses match a tool-using turn minus the tool steps.
	if len(statuses) != 2 || statuses[0] != "Analyzing your question..." ||
		statuses[1] != "Generating response..." {
		t.Fatalf("statuses = %v", statuses)
	}
	if chunks != 1 {
		t.Fatalf("expected a single text chunk, got %d", chunks)
	}
	if text != "Hello! Ask me about stock prices." {
		t.Errorf("text = %q", text)
	}
	if provider.StreamCount != 0 {
		t.Errorf("no-tool turns must not make a second model call, got %d", provider.StreamCount)
	}
	if done == nil || len(done.History) != 2 {
		t.Fatalf("done = %+v", done)
	}
}

func TestRunDecisionFailure(t *testing.T) {
	provider := llm.NewScriptedMockProvider()
	provider.Err = errors.Newf(errors.CodeLLMError, "model gateway unavailable")

	o := newTestOrchestrator(t, provider, &fakeService{})
	events := collect(t, o.Run(context.Background(), nil, "anything"))

	last := events[len(events)-1]
	errEv, ok := last.(ErrorEvent)
	if !ok {
		t.Fatalf("expected terminal error event, got %T", last)
	}
	if errors.CodeOf(errEv.Err) != errors.CodeLLMError {
		t.Errorf("error code = %v", errors.CodeOf(errEv.Err))
	}
	for _, ev := range events {
		if _, ok := ev.(DoneEvent); ok {
			t.Error("failed turn must not emit done")
		}
	}
}

func TestRunStreamFailure(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", "calculate", `{"expression": "1 + 1"}`),
		},
	})
	provider.StreamErr = errors.Newf(errors.CodeLLMError, "stream refused")

	o := newTestOrchestrator(t, provider, &fakeService{})
	events := collect(t, o.Run(context.Background(), nil, "one plus one"))

	last := events[len(events)-1]
	if _, ok := last.(ErrorEvent); !ok {
		t.Fatalf("expected terminal error event, got %T", last)
	}
	for _, ev := range events {
		if _, ok := ev.(DoneEvent); ok {
			t.Error("failed turn must not emit done")
		}
	}
}

func TestRunHistoryReplayed(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{Content: "As I said, $250."})

	o := newTestOrchestrator(t, provider, &fakeService{})
	prior := []llm.Message{
		{Role: llm.RoleUser, Content: "price of TSLA?"},
		{Role: llm.RoleAssistant, Content: "TSLA trades at $250."},
	}
	collect(t, o.Run(context.Background(), prior, "what was that again?"))

	req := provider.Requests[0]
	if len(req.Messages) != 4 {
		t.Fatalf("decision call messages = %d", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %v", req.Messages[0].Role)
	}
	if req.Messages[1].Content != "price of TSLA?" || req.Messages[2].Content != "TSLA trades at $250." {
		t.Errorf("history not replayed in order: %+v", req.Messages[1:3])
	}
	if req.Messages[3].Content != "what was that again?" {
		t.Errorf("user message = %q", req.Messages[3].Content)
	}
	if len(req.Tools) == 0 {
		t.Error("decision call must carry the tool defs")
	}
}

func TestRunSanitizesUserInput(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{Content: "ok"})

	o := newTestOrchestrator(t, provider, &fakeService{})
	collect(t, o.Run(context.Background(), nil, "  hello\x00world  "))

	req := provider.Requests[0]
	userMsg := req.Messages[len(req.Messages)-1]
	if userMsg.Content != "helloworld" {
		t.Errorf("sanitized input = %q", userMsg.Content)
	}
}

func TestRunCancellation(t *testing.T) {
	provider := llm.NewScriptedMockProvider(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", "calculate", `{"expression": "1 + 1"}`),
		},
	})
	provider.AddStream("never", "read")

	o := newTestOrchestrator(t, provider, &fakeService{})
	ctx, cancel := context.WithCancel(context.Background())

	ch := o.Run(ctx, nil, "cancel me")
	// Take the first event, then abandon the stream.
	<-ch
	cancel()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("event channel did not close after cancellation")
		}
	}
}
