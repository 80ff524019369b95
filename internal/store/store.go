package store

import "context"

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt string
	UpdatedAt string
}

type ConversationSummary struct {
	ID           string
	UserID       string
	Title        string
	CreatedAt    string
	UpdatedAt    string
	MessageCount int64
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Metadata       map[string]any
	CreatedAt      string
}

type ConversationEvent struct {
	ConversationID string
	Seq            int64
	Type           string
	Timestamp      string
	Source         string
	Payload        map[string]any
}

type Store interface {
	CreateConversation(ctx context.Context, conversation Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	UpdateConversationTitle(ctx context.Context, conversationID string, title string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	AddMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	ClearMessages(ctx context.Context, conversationID string) error
	AppendEvent(ctx context.Context, event ConversationEvent) error
	ListEvents(ctx context.Context, conversationID string, afterSeq int64) ([]ConversationEvent, error)
	NextSeq(ctx context.Context, conversationID string) (int64, error)
}
