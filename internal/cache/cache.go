// Package cache keeps the last fetched conversations and messages in a
// local sqlite database so the client can still show something when the
// network is down. Write-through on every successful fetch; read back
// only on fetch failure.
package cache

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"dmterm/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	other_id TEXT NOT NULL,
	other_username TEXT NOT NULL,
	other_avatar_url TEXT,
	last_message_id TEXT,
	last_content TEXT,
	last_created_at TIMESTAMP,
	last_mine INTEGER NOT NULL DEFAULT 0,
	fetched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	mine INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx
	ON messages (conversation_id, id);
`

// Store is the offline cache database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database inside dir.
func Open(dir string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("could not open cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversations upserts a fetched page of conversations.
func (s *Store) SaveConversations(cc []models.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin cache tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO conversations
			(id, other_id, other_username, other_avatar_url, last_message_id, last_content, last_created_at, last_mine, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			other_username = excluded.other_username,
			other_avatar_url = excluded.other_avatar_url,
			last_message_id = excluded.last_message_id,
			last_content = excluded.last_content,
			last_created_at = excluded.last_created_at,
			last_mine = excluded.last_mine,
			fetched_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("could not prepare conversation upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cc {
		if c.OtherParticipant == nil {
			continue
		}
		var lastID, lastContent interface{}
		var lastCreatedAt interface{}
		lastMine := 0
		if c.LastMessage != nil {
			lastID = c.LastMessage.ID
			lastContent = c.LastMessage.Content
			lastCreatedAt = c.LastMessage.CreatedAt
			if c.LastMessage.Mine {
				lastMine = 1
			}
		}
		if _, err := stmt.Exec(
			c.ID,
			c.OtherParticipant.ID,
			c.OtherParticipant.Username,
			c.OtherParticipant.AvatarURL,
			lastID,
			lastContent,
			lastCreatedAt,
			lastMine,
		); err != nil {
			return fmt.Errorf("could not upsert conversation: %w", err)
		}
	}

	return tx.Commit()
}

// LoadConversations returns the cached conversation list, most recently
// active first, capped at one page.
func (s *Store) LoadConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, other_id, other_username, other_avatar_url, last_message_id, last_content, last_created_at, last_mine
		FROM conversations
		ORDER BY last_created_at DESC
		LIMIT ?
	`, models.PageSize)
	if err != nil {
		return nil, fmt.Errorf("could not query cached conversations: %w", err)
	}
	defer rows.Close()

	var cc []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		cc = append(cc, c)
	}
	return cc, rows.Err()
}

// LoadConversation returns one cached conversation by id.
func (s *Store) LoadConversation(id string) (models.Conversation, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, other_id, other_username, other_avatar_url, last_message_id, last_content, last_created_at, last_mine
		FROM conversations
		WHERE id = ?
	`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, err
	}
	return c, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var other models.User
	var lastID, lastContent sql.NullString
	var lastCreatedAt sql.NullTime
	var lastMine int

	if err := row.Scan(
		&c.ID,
		&other.ID,
		&other.Username,
		&other.AvatarURL,
		&lastID,
		&lastContent,
		&lastCreatedAt,
		&lastMine,
	); err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, fmt.Errorf("could not scan cached conversation: %w", err)
	}

	c.OtherParticipant = &other
	if lastID.Valid {
		c.LastMessage = &models.Message{
			ID:             lastID.String,
			Content:        lastContent.String,
			ConversationID: c.ID,
			CreatedAt:      lastCreatedAt.Time,
			Mine:           lastMine == 1,
		}
	}
	return c, nil
}

// SaveMessages upserts a fetched page of messages.
func (s *Store) SaveMessages(conversationID string, mm []models.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin cache tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, conversation_id, content, created_at, mine)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("could not prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range mm {
		mine := 0
		if m.Mine {
			mine = 1
		}
		if _, err := stmt.Exec(m.ID, conversationID, m.Content, m.CreatedAt, mine); err != nil {
			return fmt.Errorf("could not insert cached message: %w", err)
		}
	}

	return tx.Commit()
}

// LoadMessages returns the newest cached page of a conversation's
// messages, newest first. Ordered by id, the same key the live
// pagination cursors on.
func (s *Store) LoadMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, content, created_at, mine
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, models.PageSize)
	if err != nil {
		return nil, fmt.Errorf("could not query cached messages: %w", err)
	}
	defer rows.Close()

	var mm []models.Message
	for rows.Next() {
		var m models.Message
		var mine int
		if err := rows.Scan(&m.ID, &m.Content, &m.CreatedAt, &mine); err != nil {
			return nil, fmt.Errorf("could not scan cached message: %w", err)
		}
		m.ConversationID = conversationID
		m.Mine = mine == 1
		mm = append(mm, m)
	}
	return mm, rows.Err()
}
