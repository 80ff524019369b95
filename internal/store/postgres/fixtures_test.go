package postgres

import (
	"time"

	"github.com/axiom-research/axiom/internal/store"
)

func sampleConversation() store.Conversation {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return store.Conversation{
		ID:        "c-1",
		UserID:    "u-1",
		Title:     "Boiling point of lead",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleMessage() store.Message {
	return store.Message{
		ID:             "m-1",
		ConversationID: "c-1",
		Role:           "user",
		Content:        "What is the boiling point of lead?",
		Metadata:       map[string]any{},
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func sampleEvent() store.ConversationEvent {
	return store.ConversationEvent{
		ConversationID: "c-1",
		Seq:            1,
		Type:           "turn.completed",
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Source:         "worker",
		Payload:        map[string]any{},
	}
}
