package workflows

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/research"
	"github.com/axiom-research/axiom/internal/store"
	"github.com/axiom-research/axiom/internal/store/memory"
	"github.com/axiom-research/axiom/internal/tools"
)

type scriptedStream struct {
	events []llm.StreamEvent
	err    error
	i      int
}

func (s *scriptedStream) Recv() (llm.StreamEvent, error) {
	if s.i >= len(s.events) {
		if s.err != nil {
			return llm.StreamEvent{}, s.err
		}
		return llm.StreamEvent{}, io.EOF
	}
	event := s.events[s.i]
	s.i++
	return event, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	bursts []*scriptedStream
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	if len(p.bursts) == 0 {
		return &scriptedStream{}, nil
	}
	next := p.bursts[0]
	p.bursts = p.bursts[1:]
	return next, nil
}

type fakeTool struct{}

func (fakeTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "webSearch",
		Description: "Search the web for information",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	}
}

func (fakeTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{"results": []any{}}, nil
}

type ingestedEvent struct {
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

type ingestRecorder struct {
	mu     sync.Mutex
	events []ingestedEvent
}

func (r *ingestRecorder) record(event ingestedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *ingestRecorder) byType(eventType string) []ingestedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []ingestedEvent
	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newIngestServer(t *testing.T) (*httptest.Server, *ingestRecorder) {
	t.Helper()
	recorder := &ingestRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event ingestedEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		recorder.record(event)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server, recorder
}

func newConversation(t *testing.T, memStore *memory.MemoryStore, id string, title string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	require.NoError(t, memStore.CreateConversation(context.Background(), store.Conversation{
		ID: id, Title: title, CreatedAt: now, UpdatedAt: now,
	}))
}

func newTurnEngine(provider llm.Provider, registered ...tools.Tool) *research.Engine {
	return research.NewEngine(provider, tools.NewRegistry(registered...), research.Config{MaxSteps: 3}, nil)
}

func TestRunResearchTurn_PersistsAssistantMessage(t *testing.T) {
	server, recorder := newIngestServer(t)
	memStore := memory.New()
	newConversation(t, memStore, "conv-1", "Already titled")

	provider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventReasoningDelta, Delta: "Thinking. "},
			{Type: llm.EventTextDelta, Delta: "Lead boils at 1749 C.\n\n## Sources\n[1] Handbook - https://example.com/pb"},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	activities := NewResearchActivities(memStore, newTurnEngine(provider), nil, server.URL)

	output, err := activities.RunResearchTurn(context.Background(), TurnInput{
		ConversationID: "conv-1",
		Message:        "What is the boiling point of lead?",
	})
	require.NoError(t, err)
	require.Contains(t, output.Content, "1749")
	require.Equal(t, "stop", output.FinishReason)
	require.NotEmpty(t, output.MessageID)

	messages, err := memStore.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "assistant", messages[0].Role)
	require.Contains(t, messages[0].Metadata, "citations")

	require.NotEmpty(t, recorder.byType("turn.delta"))
	deltas := recorder.byType("turn.delta")
	require.Equal(t, true, deltas[0].Payload["transient"])
	require.Len(t, recorder.byType("message.added"), 1)
	require.Len(t, recorder.byType("turn.completed"), 1)
}

func TestRunResearchTurn_ToolActivityIsDurable(t *testing.T) {
	server, recorder := newIngestServer(t)
	memStore := memory.New()
	newConversation(t, memStore, "conv-2", "Titled")

	provider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventToolCall, ToolCall: &llm.ToolCall{ID: "call-1", Name: "webSearch", Input: map[string]any{"query": "lead"}}},
			{Type: llm.EventDone, FinishReason: "tool-calls"},
		}},
		{events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Delta: "Answer."},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	activities := NewResearchActivities(memStore, newTurnEngine(provider, fakeTool{}), nil, server.URL)

	_, err := activities.RunResearchTurn(context.Background(), TurnInput{ConversationID: "conv-2", Message: "lead?"})
	require.NoError(t, err)

	started := recorder.byType("tool.started")
	require.Len(t, started, 1)
	require.Equal(t, "webSearch", started[0].Payload["tool"])
	require.Nil(t, started[0].Payload["transient"])
	require.Len(t, recorder.byType("tool.completed"), 1)
}

func TestRunResearchTurn_ClassifiedFailure(t *testing.T) {
	server, recorder := newIngestServer(t)
	memStore := memory.New()
	newConversation(t, memStore, "conv-3", "Titled")

	provider := &scriptedProvider{bursts: []*scriptedStream{
		{err: genai.APIError{Code: 429, Message: "rate limited"}},
	}}
	activities := NewResearchActivities(memStore, newTurnEngine(provider), nil, server.URL)

	output, err := activities.RunResearchTurn(context.Background(), TurnInput{ConversationID: "conv-3", Message: "hi"})
	require.NoError(t, err)
	require.Empty(t, output.Content)

	failed := recorder.byType("turn.failed")
	require.Len(t, failed, 1)
	require.Equal(t, float64(429), failed[0].Payload["statusCode"])
	require.Equal(t, "API rate limit exceeded", failed[0].Payload["error"])

	messages, err := memStore.ListMessages(context.Background(), "conv-3")
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestRunResearchTurn_FallsBackToLocalEvents(t *testing.T) {
	memStore := memory.New()
	newConversation(t, memStore, "conv-4", "Titled")

	provider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Delta: "Answer."},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	// No API listening at this address.
	activities := NewResearchActivities(memStore, newTurnEngine(provider), nil, "http://127.0.0.1:1")

	_, err := activities.RunResearchTurn(context.Background(), TurnInput{ConversationID: "conv-4", Message: "hi"})
	require.NoError(t, err)

	events, err := memStore.ListEvents(context.Background(), "conv-4", 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	require.Contains(t, types, "message.added")
	require.Contains(t, types, "turn.completed")
	// Transient deltas are never written to the store.
	require.NotContains(t, types, "turn.delta")
}

func TestRunResearchTurn_GeneratesTitleOnFirstExchange(t *testing.T) {
	server, recorder := newIngestServer(t)
	memStore := memory.New()
	newConversation(t, memStore, "conv-5", "")

	engineProvider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Delta: "Lead boils at 1749 C."},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	titleProvider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Delta: "Lead Boiling Point.\nextra line"},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	activities := NewResearchActivities(memStore, newTurnEngine(engineProvider), titleProvider, server.URL)

	_, err := activities.RunResearchTurn(context.Background(), TurnInput{ConversationID: "conv-5", Message: "Boiling point of lead?"})
	require.NoError(t, err)

	conversation, err := memStore.GetConversation(context.Background(), "conv-5")
	require.NoError(t, err)
	require.NotNil(t, conversation)
	require.Equal(t, "Lead Boiling Point", conversation.Title)
	require.Len(t, recorder.byType("conversation.title.updated"), 1)
}

func TestRunResearchTurn_SkipsTitleWhenAlreadySet(t *testing.T) {
	server, recorder := newIngestServer(t)
	memStore := memory.New()
	newConversation(t, memStore, "conv-6", "Existing Title")

	provider := &scriptedProvider{bursts: []*scriptedStream{
		{events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Delta: "Answer."},
			{Type: llm.EventDone, FinishReason: "stop"},
		}},
	}}
	titleProvider := &scriptedProvider{}
	activities := NewResearchActivities(memStore, newTurnEngine(provider), titleProvider, server.URL)

	_, err := activities.RunResearchTurn(context.Background(), TurnInput{ConversationID: "conv-6", Message: "hi"})
	require.NoError(t, err)
	require.Empty(t, recorder.byType("conversation.title.updated"))
}

func TestRunResearchTurn_RequiresConversationID(t *testing.T) {
	activities := NewResearchActivities(memory.New(), newTurnEngine(&scriptedProvider{}), nil, "")
	_, err := activities.RunResearchTurn(context.Background(), TurnInput{})
	require.Error(t, err)
}

func TestHandleTurnFailure(t *testing.T) {
	server, recorder := newIngestServer(t)
	activities := NewResearchActivities(memory.New(), nil, nil, server.URL)

	err := activities.HandleTurnFailure(context.Background(), TurnFailureInput{
		ConversationID: "conv-1",
		Error:          "activity exploded",
	})
	require.NoError(t, err)

	failed := recorder.byType("turn.failed")
	require.Len(t, failed, 1)
	require.Equal(t, "activity exploded", failed[0].Payload["error"])
}

func TestHandleTurnFailure_DefaultsDetail(t *testing.T) {
	server, recorder := newIngestServer(t)
	activities := NewResearchActivities(memory.New(), nil, nil, server.URL)

	require.NoError(t, activities.HandleTurnFailure(context.Background(), TurnFailureInput{ConversationID: "conv-1"}))
	failed := recorder.byType("turn.failed")
	require.Len(t, failed, 1)
	require.Equal(t, "unknown workflow activity error", failed[0].Payload["error"])

	require.Error(t, activities.HandleTurnFailure(context.Background(), TurnFailureInput{}))
}

func TestBuildHistory(t *testing.T) {
	stored := []store.Message{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "   "},
	}

	history := buildHistory(stored, "second question")
	require.Len(t, history, 3)
	require.Equal(t, llm.RoleUser, history[0].Role)
	require.Equal(t, llm.RoleAssistant, history[1].Role)
	require.Equal(t, "second question", history[2].Text())

	// The signal message is not duplicated when persistence already
	// caught up.
	history = buildHistory([]store.Message{{Role: "user", Content: "hello"}}, "hello")
	require.Len(t, history, 1)

	// A history ending on the assistant with no new message cannot be
	// answered.
	require.Nil(t, buildHistory([]store.Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	}, ""))

	require.Empty(t, buildHistory(nil, ""))
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Lead Boiling Point", "Lead Boiling Point"},
		{"quoted", `"Lead Boiling Point."`, "Lead Boiling Point"},
		{"multiline", "Lead Boiling Point\nSecond line", "Lead Boiling Point"},
		{"backticks", "`Lead`", "Lead"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, sanitizeTitle(tc.raw))
		})
	}
}
