package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/axiom-research/axiom/internal/store"
)

type conversationSummaryResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id,omitempty"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int64  `json:"message_count"`
}

type listConversationsResponse struct {
	Conversations []conversationSummaryResponse `json:"conversations"`
}

type messageResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type createConversationRequest struct {
	Query    string         `json:"query"`
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	req := createConversationRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	id := newID()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	conversation := store.Conversation{
		ID:        id,
		UserID:    strings.TrimSpace(req.UserID),
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(r.Context(), conversation); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.workflows != nil {
		_ = s.workflows.StartConversation(r.Context(), id)
	}
	s.appendConversationEvent(r.Context(), id, "conversation.created", map[string]any{
		"title": conversation.Title,
	})

	query := strings.TrimSpace(req.Query)
	if query != "" {
		msg := store.Message{
			ID:             newID(),
			ConversationID: id,
			Role:           "user",
			Content:        query,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := s.store.AddMessage(r.Context(), msg); err == nil {
			if s.workflows != nil {
				_ = s.workflows.SignalMessage(r.Context(), id, query)
			}
			s.appendConversationEvent(r.Context(), id, "message.added", map[string]any{
				"message_id": msg.ID,
				"role":       msg.Role,
				"content":    msg.Content,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"conversation_id": id,
		"title":           conversation.Title,
		"created_at":      now,
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	conversations, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listConversationsResponse{Conversations: make([]conversationSummaryResponse, 0, len(conversations))}
	for _, conversation := range conversations {
		response.Conversations = append(response.Conversations, conversationSummaryResponse{
			ID:           conversation.ID,
			UserID:       conversation.UserID,
			Title:        conversation.Title,
			CreatedAt:    conversation.CreatedAt,
			UpdatedAt:    conversation.UpdatedAt,
			MessageCount: conversation.MessageCount,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}
	conversation, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conversation == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         conversation.ID,
		"user_id":    conversation.UserID,
		"title":      conversation.Title,
		"created_at": conversation.CreatedAt,
		"updated_at": conversation.UpdatedAt,
	})
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}
	if s.workflows != nil {
		_ = s.workflows.CancelConversation(r.Context(), conversationID)
	}
	if err := s.store.DeleteConversation(r.Context(), conversationID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) updateConversationTitle(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req updateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateConversationTitle(r.Context(), conversationID, title); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.appendConversationEvent(r.Context(), conversationID, "conversation.title.updated", map[string]any{
		"title": title,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	messages, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listMessagesResponse{Messages: make([]messageResponse, 0, len(messages))}
	for _, msg := range messages {
		response.Messages = append(response.Messages, messageResponse{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			Metadata:       msg.Metadata,
			CreatedAt:      msg.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type addMessageRequest struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	msg := store.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           req.Role,
		Content:        req.Content,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.AddMessage(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.workflows != nil && req.Role == "user" {
		_ = s.workflows.SignalMessage(r.Context(), conversationID, req.Content)
	}

	s.appendConversationEvent(r.Context(), conversationID, "message.added", map[string]any{
		"message_id": msg.ID,
		"role":       msg.Role,
		"content":    msg.Content,
	})

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) clearMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := s.store.ClearMessages(r.Context(), conversationID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.appendConversationEvent(r.Context(), conversationID, "conversation.cleared", map[string]any{})
	w.WriteHeader(http.StatusNoContent)
}
