package llm

import (
	"context"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one content block of a message. Exactly one of the payload
// fields is set, selected by Type.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates the message's text parts in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

type ToolCall struct {
	ID    string         `json:"toolCallId"`
	Name  string         `json:"toolName"`
	Input map[string]any `json:"input"`
}

type ToolResult struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Output     map[string]any `json:"output"`
	IsError    bool           `json:"isError,omitempty"`
}

// ToolDefinition describes a callable tool to the model. Schema is a
// JSON schema for the tool's input object.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

type EventType string

// The closed set of decoded stream events. Providers decode their wire
// format into these at the stream boundary; nothing downstream branches
// on provider-specific shapes.
const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

type StreamEvent struct {
	Type         EventType   `json:"type"`
	Delta        string      `json:"delta,omitempty"`
	ToolCall     *ToolCall   `json:"toolCall,omitempty"`
	ToolResult   *ToolResult `json:"toolResult,omitempty"`
	Err          *TurnError  `json:"error,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type StreamRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	// DisableTools forbids further tool calls so the model must answer
	// in text. Set by the engine on the final step of a turn.
	DisableTools bool
}

// Stream is a pull-based event iterator. Recv returns io.EOF after the
// final event has been delivered.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

type Provider interface {
	Stream(ctx context.Context, req StreamRequest) (Stream, error)
}
