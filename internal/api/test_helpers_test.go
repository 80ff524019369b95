package api

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/axiom-research/axiom/internal/config"
	"github.com/axiom-research/axiom/internal/events"
	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateConversation(ctx context.Context, conversation store.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *MockStore) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if value := args.Get(0); value != nil {
		return value.(*store.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var result []store.ConversationSummary
	if value := args.Get(0); value != nil {
		result = value.([]store.ConversationSummary)
	}
	return result, args.Error(1)
}

func (m *MockStore) UpdateConversationTitle(ctx context.Context, conversationID string, title string) error {
	args := m.Called(ctx, conversationID, title)
	return args.Error(0)
}

func (m *MockStore) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockStore) AddMessage(ctx context.Context, msg store.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	args := m.Called(ctx, conversationID)
	var result []store.Message
	if value := args.Get(0); value != nil {
		result = value.([]store.Message)
	}
	return result, args.Error(1)
}

func (m *MockStore) ClearMessages(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.ConversationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, conversationID string, afterSeq int64) ([]store.ConversationEvent, error) {
	args := m.Called(ctx, conversationID, afterSeq)
	var result []store.ConversationEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.ConversationEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.ConversationEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, conversationID string) <-chan events.ConversationEvent {
	args := m.Called(ctx, conversationID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.ConversationEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.ConversationEvent); ok {
			return ch
		}
	}
	return nil
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockWorkflowService) SignalMessage(ctx context.Context, conversationID string, message string) error {
	args := m.Called(ctx, conversationID, message)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// scriptedStream and scriptedProvider drive the research handler
// without a real model.
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
	bursts   []*scriptedStream
	requests []llm.StreamRequest
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	p.requests = append(p.requests, req)
	if len(p.bursts) == 0 {
		return &scriptedStream{}, nil
	}
	next := p.bursts[0]
	p.bursts = p.bursts[1:]
	return next, nil
}

func newTestServer(t *testing.T, store store.Store, broker Broker, workflows WorkflowService, engine TurnRunner, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, workflows, engine, cfg)
	return httptest.NewServer(server.Router())
}
