// Package turn drives one user-to-assistant exchange: a bounded multi-round
// loop in which the model may request tool calls, each call is executed and
// appended to the transcript, and generation resumes until the model answers
// in plain text or the round budget runs out.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tidewater-labs/skiff/pkg/bridge"
	"github.com/tidewater-labs/skiff/pkg/llm"
)

// DefaultMaxRounds bounds how many tool-calling rounds one turn may take.
const DefaultMaxRounds = 5

// State is the terminal state of a turn.
type State string

const (
	// StateFinished: the model answered in plain text.
	StateFinished State = "finished"
	// StateStopped: the user cancelled mid-turn. Partial text is kept and
	// the turn is not treated as a failure.
	StateStopped State = "stopped"
	// StateErrored: the model call itself failed.
	StateErrored State = "errored"
)

// ToolResultRecord is one executed tool call, in call order. A failed call
// carries its error inline; it does not terminate the turn.
type ToolResultRecord struct {
	CallID string
	Tool   string
	Args   map[string]any
	Result string
	Error  string
}

// Result is the outcome of one turn.
type Result struct {
	ID          string
	State       State
	Text        string
	ToolResults []ToolResultRecord
	Rounds      int
}

// Invoker executes one namespaced tool call. *bridge.Bridge satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, qualifiedName string, args map[string]any) (string, error)
}

// Options tune a Runner.
type Options struct {
	// MaxRounds caps tool-calling rounds per turn. Non-positive selects
	// DefaultMaxRounds.
	MaxRounds int
	Logger    *slog.Logger
}

// Runner executes turns against one model client and one tool invoker.
type Runner struct {
	client    llm.Client
	invoker   Invoker
	maxRounds int
	logger    *slog.Logger
}

// NewRunner builds a Runner.
func NewRunner(client llm.Client, invoker Invoker, opts Options) *Runner {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, invoker: invoker, maxRounds: maxRounds, logger: logger}
}

// Run executes one turn over the given transcript with the given tools.
// onDelta, when non-nil, observes streamed text fragments as they arrive.
// Cancellation via ctx yields a StateStopped result carrying whatever text
// had streamed, with a nil error: a user-initiated stop is not a failure.
func (r *Runner) Run(ctx context.Context, history []llm.Message, tools []bridge.Tool, onDelta func(string)) (*Result, error) {
	result := &Result{ID: uuid.NewString()}
	defs := toolDefs(tools)
	messages := append([]llm.Message(nil), history...)

	for round := 1; ; round++ {
		result.Rounds = round

		// The final permitted round withholds the tools so the model must
		// answer in text instead of requesting yet another call.
		roundDefs := defs
		if round > r.maxRounds {
			r.logger.Debug("round budget exhausted, forcing text response",
				"turn", result.ID,
				"rounds", r.maxRounds,
			)
			roundDefs = nil
		}

		var streamed string
		completion, err := r.client.ChatStream(ctx, llm.Request{Messages: messages, Tools: roundDefs}, func(delta string) {
			streamed += delta
			if onDelta != nil {
				onDelta(delta)
			}
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				result.State = StateStopped
				result.Text = streamed
				return result, nil
			}
			result.State = StateErrored
			result.Text = streamed
			return result, fmt.Errorf("turn %s round %d: %w", result.ID, round, err)
		}

		if len(completion.ToolCalls) == 0 || roundDefs == nil {
			result.State = StateFinished
			result.Text = completion.Text
			return result, nil
		}

		// A round ending in tool calls is not the end of the turn, even when
		// it carried no text; execution feeds the next round.
		messages = append(messages, llm.AssistantMessage(completion.Text, completion.ToolCalls...))
		for _, call := range completion.ToolCalls {
			record := ToolResultRecord{CallID: call.ID, Tool: call.Name, Args: call.Arguments}
			out, err := r.invoker.Invoke(ctx, call.Name, call.Arguments)
			if err != nil {
				record.Error = err.Error()
				out = "tool error: " + err.Error()
				r.logger.Warn("tool call failed", "turn", result.ID, "tool", call.Name, "error", err)
			} else {
				record.Result = out
			}
			result.ToolResults = append(result.ToolResults, record)
			messages = append(messages, llm.ToolMessage(call.ID, out))

			if ctx.Err() != nil {
				result.State = StateStopped
				return result, nil
			}
		}
	}
}

func toolDefs(tools []bridge.Tool) []llm.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llm.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.QualifiedName,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}
