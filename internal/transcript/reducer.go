package transcript

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/axiom-research/axiom/internal/llm"
)

type Message struct {
	ID    string     `json:"id"`
	Role  llm.Role   `json:"role"`
	Parts []llm.Part `json:"parts"`
}

// Text concatenates the message's text parts in arrival order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == llm.PartText {
			out += p.Text
		}
	}
	return out
}

type StepType string

const (
	StepTool      StepType = "tool"
	StepReasoning StepType = "reasoning"
)

// ThoughtStep is one timeline entry: a reasoning snippet or a tool
// invocation. Entries keep their first-seen position; results update
// them in place.
type ThoughtStep struct {
	ID       string         `json:"id"`
	Type     StepType       `json:"type"`
	ToolName string         `json:"toolName,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Content  string         `json:"content,omitempty"`
	Complete bool           `json:"complete"`
	Result   map[string]any `json:"result,omitempty"`
}

// Reducer folds a turn's decoded event stream into three views: the
// message list, the thought-step timeline, and the citation registry.
// Single writer; events must be applied in emission order.
type Reducer struct {
	messages  []Message
	steps     []ThoughtStep
	stepIndex map[string]int
	citations *Citations
	excerpts  map[string]string
	turnErr   *llm.TurnError
	finish    string
}

func NewReducer() *Reducer {
	return &Reducer{
		stepIndex: map[string]int{},
		citations: NewCitations(),
		excerpts:  map[string]string{},
	}
}

// AddUserMessage appends a user message, starting a new turn.
func (r *Reducer) AddUserMessage(text string) {
	r.messages = append(r.messages, Message{
		ID:    uuid.New().String(),
		Role:  llm.RoleUser,
		Parts: []llm.Part{{Type: llm.PartText, Text: text}},
	})
}

// Apply folds one decoded event into the views.
func (r *Reducer) Apply(event llm.StreamEvent) {
	switch event.Type {
	case llm.EventTextDelta:
		msg := r.currentAssistant()
		last := len(msg.Parts) - 1
		if last >= 0 && msg.Parts[last].Type == llm.PartText {
			msg.Parts[last].Text += event.Delta
		} else {
			msg.Parts = append(msg.Parts, llm.Part{Type: llm.PartText, Text: event.Delta})
		}
		r.parseCitations(msg.Text())

	case llm.EventReasoningDelta:
		msg := r.currentAssistant()
		last := len(msg.Parts) - 1
		if last >= 0 && msg.Parts[last].Type == llm.PartReasoning {
			msg.Parts[last].Text += event.Delta
			r.steps[len(r.steps)-1].Content += event.Delta
			return
		}
		msg.Parts = append(msg.Parts, llm.Part{Type: llm.PartReasoning, Text: event.Delta})
		// Reasoning has no separate completion event.
		r.steps = append(r.steps, ThoughtStep{
			ID:       uuid.New().String(),
			Type:     StepReasoning,
			Content:  event.Delta,
			Complete: true,
		})

	case llm.EventToolCall:
		if event.ToolCall == nil {
			return
		}
		msg := r.currentAssistant()
		msg.Parts = append(msg.Parts, llm.Part{Type: llm.PartToolCall, ToolCall: event.ToolCall})
		if _, seen := r.stepIndex[event.ToolCall.ID]; seen {
			return
		}
		r.stepIndex[event.ToolCall.ID] = len(r.steps)
		r.steps = append(r.steps, ThoughtStep{
			ID:       event.ToolCall.ID,
			Type:     StepTool,
			ToolName: event.ToolCall.Name,
			Input:    event.ToolCall.Input,
		})

	case llm.EventToolResult:
		if event.ToolResult == nil {
			return
		}
		// First result wins, in the replayed parts as much as the
		// timeline.
		i, ok := r.stepIndex[event.ToolResult.ToolCallID]
		if !ok || r.steps[i].Complete {
			return
		}
		msg := r.currentAssistant()
		msg.Parts = append(msg.Parts, llm.Part{Type: llm.PartToolResult, ToolResult: event.ToolResult})
		r.steps[i].Result = event.ToolResult.Output
		r.steps[i].Complete = true
		r.harvestExcerpts(event.ToolResult.Output)

	case llm.EventError:
		r.turnErr = event.Err

	case llm.EventDone:
		r.finish = event.FinishReason
		if msg := r.lastAssistant(); msg != nil {
			r.parseCitations(msg.Text())
		}
	}
}

func (r *Reducer) parseCitations(text string) {
	r.citations.ParseText(text)
	for url, excerpt := range r.excerpts {
		r.citations.SetExcerpt(url, excerpt)
	}
}

// harvestExcerpts remembers search snippets by URL so that sources
// cited later carry the text that surfaced them.
func (r *Reducer) harvestExcerpts(output map[string]any) {
	if output == nil {
		return
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return
	}
	var decoded struct {
		Results []struct {
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return
	}
	for _, result := range decoded.Results {
		if result.URL == "" || result.Content == "" {
			continue
		}
		if _, ok := r.excerpts[result.URL]; !ok {
			r.excerpts[result.URL] = result.Content
		}
	}
}

// currentAssistant returns the trailing assistant message, creating
// one when the turn's output has not started yet.
func (r *Reducer) currentAssistant() *Message {
	if msg := r.lastAssistant(); msg != nil {
		return msg
	}
	r.messages = append(r.messages, Message{
		ID:   uuid.New().String(),
		Role: llm.RoleAssistant,
	})
	return &r.messages[len(r.messages)-1]
}

func (r *Reducer) lastAssistant() *Message {
	if len(r.messages) == 0 {
		return nil
	}
	last := &r.messages[len(r.messages)-1]
	if last.Role != llm.RoleAssistant {
		return nil
	}
	return last
}

// LastAssistantText returns the trailing assistant message's text, or
// "" when the turn has produced none.
func (r *Reducer) LastAssistantText() string {
	if msg := r.lastAssistant(); msg != nil {
		return msg.Text()
	}
	return ""
}

func (r *Reducer) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Steps returns the timeline in first-seen order.
func (r *Reducer) Steps() []ThoughtStep {
	out := make([]ThoughtStep, len(r.steps))
	copy(out, r.steps)
	return out
}

func (r *Reducer) Citations() *Citations {
	return r.citations
}

func (r *Reducer) Err() *llm.TurnError {
	return r.turnErr
}

func (r *Reducer) FinishReason() string {
	return r.finish
}

// Reset clears every view, as when a conversation is cleared.
func (r *Reducer) Reset() {
	r.messages = nil
	r.steps = nil
	r.stepIndex = map[string]int{}
	r.citations.Clear()
	r.excerpts = map[string]string{}
	r.turnErr = nil
	r.finish = ""
}
