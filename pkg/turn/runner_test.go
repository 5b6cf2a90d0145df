package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tidewater-labs/skiff/pkg/bridge"
	"github.com/tidewater-labs/skiff/pkg/llm"
)

// scriptedClient returns one scripted completion per round. A step may
// instead stream some text and then block until ctx cancellation, modelling
// a user pressing stop mid-generation.
type scriptedStep struct {
	completion   *llm.Completion
	streamFirst  string
	blockForever bool
	err          error
}

type scriptedClient struct {
	steps []scriptedStep
	calls []llm.Request
}

func (c *scriptedClient) ChatStream(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Completion, error) {
	c.calls = append(c.calls, req)
	if len(c.steps) == 0 {
		return &llm.Completion{Text: "out of script"}, nil
	}
	step := c.steps[0]
	c.steps = c.steps[1:]

	if step.streamFirst != "" && onDelta != nil {
		onDelta(step.streamFirst)
	}
	if step.blockForever {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.completion.Text != "" && onDelta != nil {
		onDelta(step.completion.Text)
	}
	return step.completion, nil
}

// recordingInvoker answers every tool call with a canned string.
type recordingInvoker struct {
	invoked []string
	err     error
}

func (r *recordingInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.invoked = append(r.invoked, name)
	if r.err != nil {
		return "", r.err
	}
	return "result of " + name, nil
}

func testTools() []bridge.Tool {
	return []bridge.Tool{
		{QualifiedName: "files_read", Description: "Read a file"},
		{QualifiedName: "search_web", Description: "Search the web"},
	}
}

func TestTurnWithTwoToolCallsThenText(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{steps: []scriptedStep{
		{completion: &llm.Completion{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "files_read", Arguments: map[string]any{"path": "/a"}},
		}}},
		{completion: &llm.Completion{ToolCalls: []llm.ToolCall{
			{ID: "c2", Name: "search_web", Arguments: map[string]any{"query": "go"}},
		}}},
		{completion: &llm.Completion{Text: "here is what I found"}},
	}}
	invoker := &recordingInvoker{}
	runner := NewRunner(client, invoker, Options{})

	result, err := runner.Run(t.Context(), []llm.Message{llm.UserMessage("look things up")}, testTools(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateFinished {
		t.Fatalf("state = %s", result.State)
	}
	if result.Text != "here is what I found" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.ToolResults) != 2 ||
		result.ToolResults[0].Tool != "files_read" ||
		result.ToolResults[1].Tool != "search_web" {
		t.Fatalf("tool results out of call order: %+v", result.ToolResults)
	}
	if result.Rounds != 3 {
		t.Fatalf("rounds = %d", result.Rounds)
	}

	// The final request must carry both tool results back to the model.
	last := client.calls[len(client.calls)-1]
	var toolMsgs int
	for _, msg := range last.Messages {
		if msg.Role == llm.RoleTool {
			toolMsgs++
		}
	}
	if toolMsgs != 2 {
		t.Fatalf("final request carried %d tool messages, want 2", toolMsgs)
	}
}

func TestTurnCancellationPreservesPartialText(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{steps: []scriptedStep{
		{streamFirst: "partial answer so far", blockForever: true},
	}}
	runner := NewRunner(client, &recordingInvoker{}, Options{})

	ctx, cancel := context.WithCancel(t.Context())
	firstDelta := make(chan struct{})
	var once sync.Once
	done := make(chan *Result, 1)
	go func() {
		result, err := runner.Run(ctx, []llm.Message{llm.UserMessage("hi")}, testTools(), func(delta string) {
			once.Do(func() { close(firstDelta) })
		})
		if err != nil {
			t.Errorf("cancelled turn returned error: %v", err)
		}
		done <- result
	}()

	<-firstDelta
	cancel()
	result := <-done

	if result.State != StateStopped {
		t.Fatalf("state = %s, user stop must not be a failure", result.State)
	}
	if result.Text != "partial answer so far" {
		t.Fatalf("partial text = %q", result.Text)
	}
}

func TestTurnToolFailureIsInline(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{steps: []scriptedStep{
		{completion: &llm.Completion{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "files_read", Arguments: nil},
		}}},
		{completion: &llm.Completion{Text: "could not read it"}},
	}}
	invoker := &recordingInvoker{err: errors.New("permission denied")}
	runner := NewRunner(client, invoker, Options{})

	result, err := runner.Run(t.Context(), nil, testTools(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateFinished {
		t.Fatalf("state = %s", result.State)
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].Error == "" {
		t.Fatalf("tool failure not recorded inline: %+v", result.ToolResults)
	}

	// The model sees the failure as a tool message, not a dropped call.
	second := client.calls[1]
	lastMsg := second.Messages[len(second.Messages)-1]
	if lastMsg.Role != llm.RoleTool || !strings.Contains(lastMsg.Content, "permission denied") {
		t.Fatalf("tool error not fed back: %+v", lastMsg)
	}
}

func TestTurnRoundBudgetForcesTextResponse(t *testing.T) {
	t.Parallel()

	// The model keeps requesting tools until offered none.
	greedy := func(id string) scriptedStep {
		return scriptedStep{completion: &llm.Completion{ToolCalls: []llm.ToolCall{
			{ID: id, Name: "files_read"},
		}}}
	}
	client := &scriptedClient{steps: []scriptedStep{
		greedy("c1"), greedy("c2"),
		{completion: &llm.Completion{Text: "final summary"}},
	}}
	invoker := &recordingInvoker{}
	runner := NewRunner(client, invoker, Options{MaxRounds: 2})

	result, err := runner.Run(t.Context(), nil, testTools(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateFinished || result.Text != "final summary" {
		t.Fatalf("result = %+v", result)
	}
	if len(invoker.invoked) != 2 {
		t.Fatalf("invocations = %v", invoker.invoked)
	}

	// The budget round must withhold the tools.
	last := client.calls[len(client.calls)-1]
	if len(last.Tools) != 0 {
		t.Fatalf("final round still offered %d tools", len(last.Tools))
	}
}

func TestTurnModelErrorIsErrored(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{steps: []scriptedStep{
		{err: errors.New("upstream 500")},
	}}
	runner := NewRunner(client, &recordingInvoker{}, Options{})

	result, err := runner.Run(t.Context(), nil, nil, nil)
	if err == nil || result.State != StateErrored {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
}
