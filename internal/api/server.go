package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/axiom-research/axiom/internal/config"
	"github.com/axiom-research/axiom/internal/events"
	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/research"
	"github.com/axiom-research/axiom/internal/store"
)

type Server struct {
	store     store.Store
	broker    Broker
	workflows WorkflowService
	engine    TurnRunner
	cfg       config.Config
}

type Broker interface {
	Publish(event events.ConversationEvent)
	Subscribe(ctx context.Context, conversationID string) <-chan events.ConversationEvent
}

type WorkflowService interface {
	StartConversation(ctx context.Context, conversationID string) error
	SignalMessage(ctx context.Context, conversationID string, message string) error
	CancelConversation(ctx context.Context, conversationID string) error
}

// TurnRunner runs one research turn; satisfied by research.Engine.
type TurnRunner interface {
	Run(ctx context.Context, history []llm.Message) *research.Turn
}

func NewServer(store store.Store, broker Broker, workflows WorkflowService, engine TurnRunner, cfg config.Config) *Server {
	return &Server{
		store:     store,
		broker:    broker,
		workflows: workflows,
		engine:    engine,
		cfg:       cfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/api/research", s.research)
	r.Post("/conversations", s.createConversation)
	r.Get("/conversations", s.listConversations)
	r.Get("/conversations/{id}", s.getConversation)
	r.Delete("/conversations/{id}", s.deleteConversation)
	r.Put("/conversations/{id}/title", s.updateConversationTitle)
	r.Get("/conversations/{id}/messages", s.listMessages)
	r.Post("/conversations/{id}/messages", s.addMessage)
	r.Delete("/conversations/{id}/messages", s.clearMessages)
	r.Post("/conversations/{id}/events", s.ingestEvent)
	r.Get("/conversations/{id}/events", s.streamEvents)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodPost && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && cleanPath == "/conversations" {
		return true
	}
	if method == http.MethodOptions && strings.HasSuffix(cleanPath, "/messages") {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListConversations(ctx, ""); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if strings.TrimSpace(s.cfg.GeminiAPIKey) == "" {
		subsystems["model"] = subsystemStatus{Status: "error", Error: "GOOGLE_GENERATIVE_AI_API_KEY not set"}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["model"] = subsystemStatus{Status: "ok"}
	}

	if strings.TrimSpace(s.cfg.TavilyAPIKey) == "" {
		subsystems["search"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["search"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

type ingestEventRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.Type, "_") {
		http.Error(w, "event type must use dot notation", http.StatusBadRequest)
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	seq, _ := s.store.NextSeq(r.Context(), conversationID)
	event := store.ConversationEvent{
		ConversationID: conversationID,
		Seq:            seq,
		Type:           events.NormalizeType(req.Type),
		Timestamp:      timestamp,
		Source:         req.Source,
		Payload:        req.Payload,
	}
	// Deltas flood the stream; fan them out without persisting.
	if isTransientPayload(req.Payload) {
		s.broker.Publish(toEvent(event))
		w.WriteHeader(http.StatusAccepted)
		return
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))

	w.WriteHeader(http.StatusAccepted)
}

func isTransientPayload(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	if value, ok := payload["transient"]; ok {
		if flag, ok := value.(bool); ok {
			return flag
		}
	}
	return false
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	afterSeq := parseAfterSeq(conversationID, r)
	stored, err := s.store.ListEvents(ctx, conversationID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, event := range stored {
		sendSSE(w, toEvent(event))
		flusher.Flush()
	}

	eventsChan := s.broker.Subscribe(ctx, conversationID)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.ConversationEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.ConversationID, event.Seq)
	fmt.Fprint(w, "event: conversation_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toEvent(event store.ConversationEvent) events.ConversationEvent {
	return events.ConversationEvent{
		ConversationID: event.ConversationID,
		Seq:            event.Seq,
		Type:           events.NormalizeType(event.Type),
		Ts:             event.Timestamp,
		Source:         event.Source,
		Payload:        event.Payload,
	}
}

func parseAfterSeq(conversationID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 {
		return 0
	}
	if parts[0] != conversationID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

// appendConversationEvent persists and fans out one durable event,
// allocating its sequence number.
func (s *Server) appendConversationEvent(ctx context.Context, conversationID string, eventType string, payload map[string]any) {
	seq, _ := s.store.NextSeq(ctx, conversationID)
	event := store.ConversationEvent{
		ConversationID: conversationID,
		Seq:            seq,
		Type:           eventType,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Source:         "api",
		Payload:        payload,
	}
	_ = s.store.AppendEvent(ctx, event)
	s.broker.Publish(toEvent(event))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}

func newID() string {
	return uuid.New().String()
}
