package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/store"
	"github.com/axiom-research/axiom/internal/transcript"
)

type researchRequest struct {
	Messages       []researchMessage `json:"messages"`
	ConversationID string            `json:"conversation_id"`
}

type researchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// research streams one turn to the caller as server-sent events, each
// frame carrying a decoded event. Failures before the first byte go out
// as a classified JSON error; failures mid-stream arrive as a terminal
// error event.
func (s *Server) research(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeTurnError(w, &llm.TurnError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "AI service temporarily unavailable",
			Action:     "The research engine is not configured. Please try again later.",
		})
		return
	}

	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTurnError(w, &llm.TurnError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request",
			Action:     "The request body could not be parsed.",
		})
		return
	}
	if len(req.Messages) == 0 {
		writeTurnError(w, &llm.TurnError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request",
			Action:     "At least one message is required.",
		})
		return
	}

	history := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := llm.Role(strings.TrimSpace(msg.Role))
		switch role {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			writeTurnError(w, &llm.TurnError{
				StatusCode: http.StatusBadRequest,
				Message:    "Invalid request",
				Action:     fmt.Sprintf("Unsupported message role: %q.", msg.Role),
			})
			return
		}
		history = append(history, llm.TextMessage(role, msg.Content))
	}
	if history[len(history)-1].Role != llm.RoleUser {
		writeTurnError(w, &llm.TurnError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request",
			Action:     "The last message must come from the user.",
		})
		return
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID != "" {
		s.persistUserMessage(r, conversationID, history[len(history)-1])
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	turn := s.engine.Run(r.Context(), history)
	defer turn.Close()

	reducer := transcript.NewReducer()
	for {
		event, err := turn.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The turn channel only terminates with io.EOF.
			break
		}
		reducer.Apply(event)
		payload, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	if conversationID != "" && reducer.Err() == nil {
		s.persistAssistantMessage(r, conversationID, reducer)
	}
}

func (s *Server) persistUserMessage(r *http.Request, conversationID string, msg llm.Message) {
	stored := store.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           string(llm.RoleUser),
		Content:        msg.Text(),
		Metadata:       map[string]any{},
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.AddMessage(r.Context(), stored); err != nil {
		return
	}
	s.appendConversationEvent(r.Context(), conversationID, "message.added", map[string]any{
		"message_id": stored.ID,
		"role":       stored.Role,
		"content":    stored.Content,
	})
}

func (s *Server) persistAssistantMessage(r *http.Request, conversationID string, reducer *transcript.Reducer) {
	content := reducer.LastAssistantText()
	if strings.TrimSpace(content) == "" {
		return
	}
	metadata := map[string]any{}
	if citations := reducer.Citations().All(); len(citations) > 0 {
		metadata["citations"] = citations
	}
	if steps := reducer.Steps(); len(steps) > 0 {
		metadata["steps"] = steps
	}
	stored := store.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           string(llm.RoleAssistant),
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.AddMessage(r.Context(), stored); err != nil {
		return
	}
	s.appendConversationEvent(r.Context(), conversationID, "message.added", map[string]any{
		"message_id": stored.ID,
		"role":       stored.Role,
		"content":    stored.Content,
	})
}

func writeTurnError(w http.ResponseWriter, turnErr *llm.TurnError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(turnErr.StatusCode)
	_ = json.NewEncoder(w).Encode(turnErr)
}
