package agent

import (
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/tools"
)

// TurnEvent is the unit emitted by the orchestrator to its caller. It is a
// closed sum: callers switch over the concrete types below and handle every
// case. Rendering is entirely the caller's responsibility.
type TurnEvent interface {
	isTurnEvent()
}

// StatusEvent describes progress, e.g. "Fetching current price: TSLA".
type StatusEvent struct {
	Message string
}

// ToolOutcomeEvent carries the result of one tool invocation, successful
// or not, with the arguments that were used.
type ToolOutcomeEvent struct {
	Tool   string
	Args   map[string]any
	Result tools.Result
}

// TextChunkEvent carries one incremental fragment of the assistant answer.
// Fragments are not cumulative; the caller concatenates for display.
type TextChunkEvent struct {
	Text string
}

// DoneEvent terminates a successful turn and carries the updated history:
// the input history plus the user message plus the full assistant text.
type DoneEvent struct {
	History []llm.Message
}

// ErrorEvent terminates a failed turn. It is emitted instead of DoneEvent
// when the model provider call itself fails; tool-local errors never
// produce it.
type ErrorEvent struct {
	Err error
}

func (StatusEvent) isTurnEvent()      {}
func (ToolOutcomeEvent) isTurnEvent() {}
func (TextChunkEvent) isTurnEvent()   {}
func (DoneEvent) isTurnEvent()        {}
func (ErrorEvent) isTurnEvent()       {}
