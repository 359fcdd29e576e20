package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
	"sqlpilot/prompts"
)

// ChatMessage is one persisted turn of a chat session
type ChatMessage struct {
	ID            string    `json:"id"`
	ChatSessionID string    `json:"chatSessionId"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SaveChatMessage appends a message to a chat session's transcript
func (db *DB) SaveChatMessage(chatSessionID, role, content string) (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:            uuid.New().String(),
		ChatSessionID: chatSessionID,
		Role:          role,
		Content:       content,
		CreatedAt:     time.Now(),
	}

	_, err := db.conn.Exec(`
		INSERT INTO chat_messages (id, chat_session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatSessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, serr.Wrap(err, "failed to save chat message")
	}
	return msg, nil
}

// ListChatMessages returns a chat session's transcript, oldest first
func (db *DB) ListChatMessages(chatSessionID string) ([]*ChatMessage, error) {
	rows, err := db.conn.Query(`
		SELECT id, chat_session_id, role, content, created_at
		FROM chat_messages WHERE chat_session_id = ? ORDER BY created_at`, chatSessionID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list chat messages")
	}
	defer rows.Close()

	messages := make([]*ChatMessage, 0)
	for rows.Next() {
		msg := &ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.ChatSessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan chat message")
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetChatMessages returns the most recent turns of a chat session, oldest
// first, bounded by limit. Satisfies the orchestrator's history provider.
func (db *DB) GetChatMessages(chatSessionID string, limit int) ([]prompts.ChatTurn, error) {
	rows, err := db.conn.Query(`
		SELECT role, content FROM (
			SELECT role, content, created_at
			FROM chat_messages WHERE chat_session_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at`, chatSessionID, limit)
	if err != nil {
		return nil, serr.Wrap(err, "failed to load recent chat messages")
	}
	defer rows.Close()

	turns := make([]prompts.ChatTurn, 0, limit)
	for rows.Next() {
		var turn prompts.ChatTurn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, serr.Wrap(err, "failed to scan chat turn")
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
