package events

import (
	"context"
	"strings"
	"sync"
)

type ConversationEvent struct {
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Type           string         `json:"type"`
	Ts             string         `json:"ts"`
	Source         string         `json:"source"`
	Payload        map[string]any `json:"payload"`
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ConversationEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ConversationEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, conversationID string) <-chan ConversationEvent {
	ch := make(chan ConversationEvent, 16)

	b.mu.Lock()
	if b.subscribers[conversationID] == nil {
		b.subscribers[conversationID] = map[chan ConversationEvent]struct{}{}
	}
	b.subscribers[conversationID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[conversationID] != nil {
			delete(b.subscribers[conversationID], ch)
			if len(b.subscribers[conversationID]) == 0 {
				delete(b.subscribers, conversationID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Broker) Publish(event ConversationEvent) {
	b.mu.RLock()
	subscribers := b.subscribers[event.ConversationID]
	chans := make([]chan ConversationEvent, 0, len(subscribers))
	for ch := range subscribers {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}
