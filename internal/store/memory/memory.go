package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axiom-research/axiom/internal/store"
)

// MemoryStore is the in-memory twin of the Postgres store, used by
// tests and local development without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
	events        map[string][]store.ConversationEvent
	seq           map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]store.Conversation{},
		messages:      map[string][]store.Message{},
		events:        map[string][]store.ConversationEvent{},
		seq:           map[string]int64{},
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conversation store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversation.ID] = conversation
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	cloned := conversation
	return &cloned, nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.ConversationSummary, 0, len(m.conversations))
	for _, conversation := range m.conversations {
		if userID != "" && conversation.UserID != userID {
			continue
		}
		title := conversation.Title
		if strings.TrimSpace(title) == "" {
			for _, msg := range m.messages[conversation.ID] {
				if msg.Role == "user" {
					title = msg.Content
					break
				}
			}
		}
		results = append(results, store.ConversationSummary{
			ID:           conversation.ID,
			UserID:       conversation.UserID,
			Title:        title,
			CreatedAt:    conversation.CreatedAt,
			UpdatedAt:    conversation.UpdatedAt,
			MessageCount: int64(len(m.messages[conversation.ID])),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return parseTime(results[i].UpdatedAt).After(parseTime(results[j].UpdatedAt))
	})
	return results, nil
}

func (m *MemoryStore) UpdateConversationTitle(ctx context.Context, conversationID string, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	conversation.Title = title
	conversation.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.conversations[conversationID] = conversation
	return nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	delete(m.events, conversationID)
	delete(m.seq, conversationID)
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	if conversation, ok := m.conversations[msg.ConversationID]; ok {
		conversation.UpdatedAt = msg.CreatedAt
		m.conversations[msg.ConversationID] = conversation
	}
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[conversationID]
	results := make([]store.Message, len(messages))
	copy(results, messages)
	sort.SliceStable(results, func(i, j int) bool {
		return parseTime(results[i].CreatedAt).Before(parseTime(results[j].CreatedAt))
	})
	return results, nil
}

func (m *MemoryStore) ClearMessages(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, conversationID)
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.ConversationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event.Type)), "_", ".")
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.events[event.ConversationID] = append(m.events[event.ConversationID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, conversationID string, afterSeq int64) ([]store.ConversationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.ConversationEvent{}
	for _, event := range m.events[conversationID] {
		if event.Seq > afterSeq {
			results = append(results, event)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Seq < results[j].Seq
	})
	return results, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[conversationID]++
	return m.seq[conversationID], nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
