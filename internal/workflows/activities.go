package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/research"
	"github.com/axiom-research/axiom/internal/store"
	"github.com/axiom-research/axiom/internal/transcript"
)

type TurnInput struct {
	ConversationID string
	Message        string
}

type TurnOutput struct {
	MessageID    string `json:"message_id"`
	Content      string `json:"content"`
	Steps        int    `json:"steps"`
	FinishReason string `json:"finish_reason"`
}

type TurnFailureInput struct {
	ConversationID string
	Error          string
}

var marshalJSON = json.Marshal

const titleGenerateTimeout = 20 * time.Second

// ResearchActivities runs research turns against the store and fans
// events out through the API so live subscribers see them.
type ResearchActivities struct {
	store          store.Store
	engine         *research.Engine
	provider       llm.Provider
	apiBase        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

func NewResearchActivities(store store.Store, engine *research.Engine, provider llm.Provider, apiBaseURL string) *ResearchActivities {
	return &ResearchActivities{
		store:          store,
		engine:         engine,
		provider:       provider,
		apiBase:        strings.TrimRight(apiBaseURL, "/"),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		requestTimeout: 10 * time.Second,
	}
}

func (a *ResearchActivities) RunResearchTurn(ctx context.Context, input TurnInput) (TurnOutput, error) {
	if strings.TrimSpace(input.ConversationID) == "" {
		return TurnOutput{}, errors.New("conversation_id required")
	}

	stored, err := a.store.ListMessages(ctx, input.ConversationID)
	if err != nil {
		return TurnOutput{}, fmt.Errorf("load history: %w", err)
	}
	history := buildHistory(stored, input.Message)
	if len(history) == 0 {
		return TurnOutput{}, errors.New("no user message to answer")
	}

	turn := a.engine.Run(ctx, history)
	defer turn.Close()

	reducer := transcript.NewReducer()
	for {
		event, err := turn.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		reducer.Apply(event)
		a.forwardEvent(ctx, input.ConversationID, event)
	}

	if turnErr := reducer.Err(); turnErr != nil {
		a.emitEvent(ctx, input.ConversationID, "turn.failed", map[string]any{
			"statusCode": turnErr.StatusCode,
			"error":      turnErr.Message,
			"action":     turnErr.Action,
		})
		return TurnOutput{}, nil
	}

	content := reducer.LastAssistantText()
	output := TurnOutput{
		Content:      content,
		Steps:        len(reducer.Steps()),
		FinishReason: reducer.FinishReason(),
	}
	if strings.TrimSpace(content) != "" {
		msg := store.Message{
			ID:             uuid.New().String(),
			ConversationID: input.ConversationID,
			Role:           string(llm.RoleAssistant),
			Content:        content,
			Metadata:       assistantMetadata(reducer),
			CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := a.store.AddMessage(ctx, msg); err != nil {
			return TurnOutput{}, fmt.Errorf("persist assistant message: %w", err)
		}
		output.MessageID = msg.ID
		a.emitEvent(ctx, input.ConversationID, "message.added", map[string]any{
			"message_id": msg.ID,
			"role":       msg.Role,
			"content":    msg.Content,
		})
	}
	a.emitEvent(ctx, input.ConversationID, "turn.completed", map[string]any{
		"finish_reason": output.FinishReason,
		"steps":         output.Steps,
	})

	a.maybeGenerateTitle(ctx, input.ConversationID, stored, input.Message, content)
	return output, nil
}

func (a *ResearchActivities) HandleTurnFailure(ctx context.Context, input TurnFailureInput) error {
	if strings.TrimSpace(input.ConversationID) == "" {
		return errors.New("conversation_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}
	return a.emitEvent(ctx, input.ConversationID, "turn.failed", map[string]any{
		"error": detail,
	})
}

// buildHistory maps stored messages to model turns, appending the
// signal message if persistence has not caught up with it yet.
func buildHistory(stored []store.Message, latest string) []llm.Message {
	history := make([]llm.Message, 0, len(stored)+1)
	for _, msg := range stored {
		role := llm.Role(msg.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		history = append(history, llm.TextMessage(role, msg.Content))
	}
	latest = strings.TrimSpace(latest)
	if latest != "" {
		if len(history) == 0 || history[len(history)-1].Role != llm.RoleUser || history[len(history)-1].Text() != latest {
			history = append(history, llm.TextMessage(llm.RoleUser, latest))
		}
	}
	if len(history) > 0 && history[len(history)-1].Role != llm.RoleUser {
		return nil
	}
	return history
}

func assistantMetadata(reducer *transcript.Reducer) map[string]any {
	metadata := map[string]any{}
	if citations := reducer.Citations().All(); len(citations) > 0 {
		metadata["citations"] = citations
	}
	if steps := reducer.Steps(); len(steps) > 0 {
		metadata["steps"] = steps
	}
	return metadata
}

// forwardEvent mirrors one decoded event onto the conversation stream.
// Deltas flood the stream, so they go out transient; tool activity is
// durable.
func (a *ResearchActivities) forwardEvent(ctx context.Context, conversationID string, event llm.StreamEvent) {
	switch event.Type {
	case llm.EventTextDelta:
		_ = a.postEvent(ctx, conversationID, "turn.delta", map[string]any{
			"transient": true,
			"delta":     event.Delta,
		})
	case llm.EventReasoningDelta:
		_ = a.postEvent(ctx, conversationID, "turn.reasoning", map[string]any{
			"transient": true,
			"delta":     event.Delta,
		})
	case llm.EventToolCall:
		if event.ToolCall == nil {
			return
		}
		a.emitEvent(ctx, conversationID, "tool.started", map[string]any{
			"tool_call_id": event.ToolCall.ID,
			"tool":         event.ToolCall.Name,
			"input":        event.ToolCall.Input,
		})
	case llm.EventToolResult:
		if event.ToolResult == nil {
			return
		}
		eventType := "tool.completed"
		if event.ToolResult.IsError {
			eventType = "tool.failed"
		}
		a.emitEvent(ctx, conversationID, eventType, map[string]any{
			"tool_call_id": event.ToolResult.ToolCallID,
			"tool":         event.ToolResult.ToolName,
			"output":       event.ToolResult.Output,
		})
	}
}

// emitEvent posts to the API first so live subscribers get it, then
// falls back to appending directly to the store.
func (a *ResearchActivities) emitEvent(ctx context.Context, conversationID string, eventType string, payload map[string]any) error {
	if err := a.postEvent(ctx, conversationID, eventType, payload); err == nil {
		return nil
	}
	return a.appendLocalEvent(ctx, conversationID, eventType, payload)
}

func (a *ResearchActivities) postEvent(ctx context.Context, conversationID string, eventType string, payload map[string]any) error {
	url := fmt.Sprintf("%s/conversations/%s/events", a.apiBase, conversationID)
	body, err := marshalJSON(map[string]any{
		"type":      eventType,
		"source":    "worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("event ingest failed: %s", resp.Status)
	}
	return nil
}

func (a *ResearchActivities) appendLocalEvent(ctx context.Context, conversationID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, conversationID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.ConversationEvent{
		ConversationID: conversationID,
		Seq:            seq,
		Type:           eventType,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Source:         "worker",
		Payload:        payload,
	})
}

// maybeGenerateTitle names the conversation after its first exchange.
func (a *ResearchActivities) maybeGenerateTitle(ctx context.Context, conversationID string, stored []store.Message, latestUser string, assistantReply string) {
	if a.provider == nil || strings.TrimSpace(assistantReply) == "" {
		return
	}
	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil || conversation == nil {
		return
	}
	if strings.TrimSpace(conversation.Title) != "" {
		return
	}
	question := strings.TrimSpace(latestUser)
	if question == "" {
		for i := len(stored) - 1; i >= 0; i-- {
			if stored[i].Role == string(llm.RoleUser) {
				question = strings.TrimSpace(stored[i].Content)
				if question != "" {
					break
				}
			}
		}
	}
	if question == "" {
		return
	}

	titleCtx, cancel := context.WithTimeout(ctx, titleGenerateTimeout)
	defer cancel()
	raw, err := a.generateText(titleCtx, llm.StreamRequest{
		System: "Generate a concise chat title (3-6 words). Return only the title text, no punctuation wrappers.",
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleUser, fmt.Sprintf("User request: %s\n\nAssistant response: %s", truncateRunes(question, 280), truncateRunes(assistantReply, 600))),
		},
		DisableTools: true,
	})
	if err != nil {
		return
	}
	title := sanitizeTitle(raw)
	if title == "" {
		return
	}
	if err := a.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		return
	}
	a.emitEvent(ctx, conversationID, "conversation.title.updated", map[string]any{"title": title})
}

// generateText collapses one untooled stream into plain text.
func (a *ResearchActivities) generateText(ctx context.Context, req llm.StreamRequest) (string, error) {
	stream, err := a.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if event.Type == llm.EventTextDelta {
			builder.WriteString(event.Delta)
		}
	}
	return builder.String(), nil
}

func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "`\"' ")
	if idx := strings.Index(title, "\n"); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	title = strings.TrimSuffix(title, ".")
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	return truncateRunes(title, 72)
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
