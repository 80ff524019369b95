package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/axiom-research/axiom/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"conversations",
		"messages",
		"conversation_events",
		"conversation_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateConversation(ctx context.Context, conversation store.Conversation) error {
	const query = `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		conversation.ID,
		nullString(conversation.UserID),
		conversation.Title,
		parseTimestampValue(conversation.CreatedAt),
		parseTimestampValue(conversation.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	const query = `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	var createdAt time.Time
	var updatedAt time.Time
	var userID sql.NullString
	conversation := store.Conversation{}
	if err := p.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conversation.ID,
		&userID,
		&conversation.Title,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if userID.Valid {
		conversation.UserID = userID.String
	}
	conversation.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	conversation.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &conversation, nil
}

func (p *PostgresStore) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	const query = `
		SELECT
			c.id,
			c.user_id,
			COALESCE(NULLIF(c.title, ''), first_message.content, '') AS title,
			c.created_at,
			c.updated_at,
			COUNT(m.id) AS message_count
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT content
			FROM messages
			WHERE conversation_id = c.id AND role = 'user'
			ORDER BY created_at ASC
			LIMIT 1
		) first_message ON true
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE ($1 = '' OR c.user_id = $1)
		GROUP BY c.id, c.user_id, c.title, c.created_at, c.updated_at, first_message.content
		ORDER BY c.updated_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.ConversationSummary{}
	for rows.Next() {
		var createdAt time.Time
		var updatedAt time.Time
		var owner sql.NullString
		var summary store.ConversationSummary
		if err := rows.Scan(
			&summary.ID,
			&owner,
			&summary.Title,
			&createdAt,
			&updatedAt,
			&summary.MessageCount,
		); err != nil {
			return nil, err
		}
		if owner.Valid {
			summary.UserID = owner.String
		}
		summary.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		summary.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpdateConversationTitle(ctx context.Context, conversationID string, title string) error {
	const query = `
		UPDATE conversations
		SET title = $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := p.db.ExecContext(ctx, query, title, conversationID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	return nil
}

// DeleteConversation cascades to messages, events, and the sequence
// counter in one transaction.
func (p *PostgresStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, query := range []string{
		"DELETE FROM messages WHERE conversation_id = $1",
		"DELETE FROM conversation_events WHERE conversation_id = $1",
		"DELETE FROM conversation_event_sequences WHERE conversation_id = $1",
		"DELETE FROM conversations WHERE id = $1",
	} {
		if _, err = tx.ExecContext(ctx, query, conversationID); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// AddMessage also touches the parent conversation's updated_at so
// listings sort by recent activity.
func (p *PostgresStore) AddMessage(ctx context.Context, msg store.Message) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err = tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.Role, msg.Content, encoded, parseTimestampValue(msg.CreatedAt)); err != nil {
		return err
	}
	const touch = `
		UPDATE conversations SET updated_at = $1 WHERE id = $2
	`
	if _, err = tx.ExecContext(ctx, touch, parseTimestampValue(msg.CreatedAt), msg.ConversationID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (p *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := p.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		var createdAt time.Time
		var metadataBytes []byte
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadataBytes, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		if len(metadataBytes) > 0 {
			metadata := map[string]any{}
			if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
				return nil, err
			}
			msg.Metadata = metadata
		} else {
			msg.Metadata = map[string]any{}
		}
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ClearMessages(ctx context.Context, conversationID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = $1", conversationID)
	return err
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.ConversationEvent) error {
	event.Type = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event.Type)), "_", ".")
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO conversation_events (conversation_id, seq, type, timestamp, source, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = p.db.ExecContext(ctx, query, event.ConversationID, event.Seq, event.Type, parseTimestampValue(timestamp), event.Source, encoded)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, conversationID string, afterSeq int64) ([]store.ConversationEvent, error) {
	const query = `
		SELECT conversation_id, seq, type, timestamp, source, payload
		FROM conversation_events
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, conversationID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.ConversationEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var event store.ConversationEvent
		if err := rows.Scan(&event.ConversationID, &event.Seq, &event.Type, &timestamp, &event.Source, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if len(payloadBytes) > 0 {
			payload := map[string]any{}
			if err := json.Unmarshal(payloadBytes, &payload); err != nil {
				return nil, err
			}
			event.Payload = payload
		} else {
			event.Payload = map[string]any{}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	const query = `
		INSERT INTO conversation_event_sequences (conversation_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (conversation_id)
		DO UPDATE SET last_seq = conversation_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, conversationID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
