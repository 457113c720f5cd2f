package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider returns a pre-defined sequence of responses and
// stream fragment sequences. Useful for testing the two-phase decision /
// answer protocol without a live provider.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Streams   [][]string
	Err       error
	StreamErr error

	// CallCount tracks how many times Chat has been called.
	CallCount int
	// StreamCount tracks how many times ChatStream has been called.
	StreamCount int
	// Requests records every request seen, in order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a provider that pops one response per
// Chat call and one fragment sequence per ChatStream call.
func NewScriptedMockProvider(responses ...*ChatResponse) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// ChatStream pops the next scripted fragment sequence and replays it.
func (s *ScriptedMockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	s.mu.Lock()
	s.StreamCount++
	s.Requests = append(s.Requests, req)

	if s.StreamErr != nil {
		s.mu.Unlock()
		return nil, s.StreamErr
	}

	var fragments []string
	if len(s.Streams) > 0 {
		fragments = s.Streams[0]
		s.Streams = s.Streams[1:]
	}
	s.mu.Unlock()

	chunks := make(chan StreamChunk, len(fragments)+1)
	go func() {
		defer close(chunks)
		for _, f := range fragments {
			select {
			case chunks <- StreamChunk{Content: f}:
			case <-ctx.Done():
				return
			}
		}
		chunks <- StreamChunk{Done: true}
	}()
	return chunks, nil
}

// AddStream appends a fragment sequence to the stream script.
func (s *ScriptedMockProvider) AddStream(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Streams = append(s.Streams, fragments)
}

// Ensure the scripted mock satisfies both provider interfaces.
var _ StreamingProvider = (*ScriptedMockProvider)(nil)
