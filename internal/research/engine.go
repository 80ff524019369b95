package research

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/tools"
)

// SystemPrompt steers the model through an explicit research process
// with citation discipline.
const SystemPrompt = `You are Axiom, an autonomous research agent. Your job is to answer the user's question thoroughly by researching the web.

PROCESS:
1. Use webSearch to find relevant sources for the user's question.
2. Use readPage to read the most promising sources in full.
3. Synthesize what you learned into a clear, well-structured answer.

CITATION RULES:
- Cite sources inline using bracketed numbers like [1], [2].
- End your answer with a "## Sources" section listing every cited source as: [n] Title - URL
- Number sources in the order you first cite them.
- Only cite sources you actually read or whose search excerpts you used.

STRICT RULES:
- Never fabricate sources, URLs, or quotes.
- If searches return nothing useful, say so instead of guessing.
- Keep the answer focused on the question asked.`

type Config struct {
	MaxSteps int
	System   string
}

// Engine runs one research turn at a time: it feeds the conversation
// to the model, dispatches tool calls sequentially, and streams every
// decoded event to the caller. Stateless across turns.
type Engine struct {
	provider llm.Provider
	registry *tools.Registry
	maxSteps int
	system   string
	logger   *slog.Logger
}

func NewEngine(provider llm.Provider, registry *tools.Registry, cfg Config, logger *slog.Logger) *Engine {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 5
	}
	system := cfg.System
	if system == "" {
		system = SystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		registry: registry,
		maxSteps: maxSteps,
		system:   system,
		logger:   logger,
	}
}

// Turn is the live event stream for one research turn. Recv returns
// io.EOF after the terminal event; Close abandons the turn.
type Turn struct {
	events chan llm.StreamEvent
	cancel context.CancelFunc
}

func (t *Turn) Recv() (llm.StreamEvent, error) {
	event, ok := <-t.events
	if !ok {
		return llm.StreamEvent{}, io.EOF
	}
	return event, nil
}

func (t *Turn) Close() error {
	t.cancel()
	return nil
}

// Run starts the model's next turn over the given history. Events are
// delivered in emission order; the stream ends with either a done or
// an error event.
func (e *Engine) Run(ctx context.Context, history []llm.Message) *Turn {
	turnCtx, cancel := context.WithCancel(ctx)
	turn := &Turn{
		events: make(chan llm.StreamEvent, 16),
		cancel: cancel,
	}
	go func() {
		defer close(turn.events)
		e.run(turnCtx, turn, history)
	}()
	return turn
}

func (e *Engine) emit(ctx context.Context, turn *Turn, event llm.StreamEvent) bool {
	select {
	case turn.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) run(ctx context.Context, turn *Turn, history []llm.Message) {
	messages := make([]llm.Message, len(history))
	copy(messages, history)
	defs := e.registry.Definitions()

	finish := "stop"
	for step := 1; step <= e.maxSteps; step++ {
		req := llm.StreamRequest{
			System:   e.system,
			Messages: messages,
			Tools:    defs,
			// The last step must answer in text.
			DisableTools: step == e.maxSteps,
		}
		assistant, calls, burstFinish, ok := e.burst(ctx, turn, req)
		if !ok {
			return
		}
		if burstFinish != "" {
			finish = burstFinish
		}
		messages = append(messages, assistant)

		if len(calls) == 0 {
			e.emit(ctx, turn, llm.StreamEvent{Type: llm.EventDone, FinishReason: finish})
			return
		}

		toolMsg := llm.Message{Role: llm.RoleTool}
		for _, call := range calls {
			result := e.dispatch(ctx, call)
			if !e.emit(ctx, turn, llm.StreamEvent{Type: llm.EventToolResult, ToolResult: &result}) {
				return
			}
			toolMsg.Parts = append(toolMsg.Parts, llm.Part{Type: llm.PartToolResult, ToolResult: &result})
		}
		messages = append(messages, toolMsg)
	}

	e.emit(ctx, turn, llm.StreamEvent{Type: llm.EventDone, FinishReason: "max-steps"})
}

// burst consumes one generation pass. It forwards deltas and tool-call
// events, accumulates the assistant message, and returns the tool
// calls to dispatch. ok is false when the turn has terminated.
func (e *Engine) burst(ctx context.Context, turn *Turn, req llm.StreamRequest) (assistant llm.Message, calls []llm.ToolCall, finish string, ok bool) {
	assistant = llm.Message{Role: llm.RoleAssistant}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		e.fail(ctx, turn, err)
		return assistant, nil, "", false
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return assistant, calls, finish, true
		}
		if err != nil {
			e.fail(ctx, turn, err)
			return assistant, nil, "", false
		}

		switch event.Type {
		case llm.EventTextDelta:
			if !e.emit(ctx, turn, event) {
				return assistant, nil, "", false
			}
			appendText(&assistant, llm.PartText, event.Delta)
		case llm.EventReasoningDelta:
			if !e.emit(ctx, turn, event) {
				return assistant, nil, "", false
			}
			appendText(&assistant, llm.PartReasoning, event.Delta)
		case llm.EventToolCall:
			if event.ToolCall == nil {
				continue
			}
			if !e.emit(ctx, turn, event) {
				return assistant, nil, "", false
			}
			calls = append(calls, *event.ToolCall)
			assistant.Parts = append(assistant.Parts, llm.Part{Type: llm.PartToolCall, ToolCall: event.ToolCall})
		case llm.EventDone:
			// Per-burst completion; the engine emits the turn's own
			// terminal event.
			finish = event.FinishReason
		}
	}
}

func appendText(msg *llm.Message, partType llm.PartType, delta string) {
	last := len(msg.Parts) - 1
	if last >= 0 && msg.Parts[last].Type == partType {
		msg.Parts[last].Text += delta
		return
	}
	msg.Parts = append(msg.Parts, llm.Part{Type: partType, Text: delta})
}

func (e *Engine) fail(ctx context.Context, turn *Turn, err error) {
	turnErr := llm.Classify(err)
	e.logger.Error("research turn aborted", "status", turnErr.StatusCode, "error", err)
	e.emit(ctx, turn, llm.StreamEvent{Type: llm.EventError, Err: turnErr})
}

// dispatch runs one tool call. Failures come back as error-flagged
// results the model can reason about; they never abort the turn.
func (e *Engine) dispatch(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		result.IsError = true
		result.Output = map[string]any{"error": fmt.Sprintf("unknown tool: %s", call.Name)}
		return result
	}
	if err := e.registry.ValidateInput(call.Name, call.Input); err != nil {
		e.logger.Warn("tool input rejected", "tool", call.Name, "error", err)
		result.IsError = true
		result.Output = map[string]any{"error": err.Error()}
		return result
	}

	output, err := tool.Execute(ctx, call.Input)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		result.IsError = true
		result.Output = map[string]any{"error": err.Error()}
		return result
	}
	result.Output = output
	return result
}
