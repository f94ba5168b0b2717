// Package session persists document-scoped conversations in sqlite.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/laborare/docchat/internal/model/chat"
)

// ErrStorageUnavailable wraps every failure of the backing medium.
var ErrStorageUnavailable = errors.New("session storage unavailable")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`

// Service is the sqlite-backed session store. A Save replaces the whole
// message list for a session in one transaction; writers on the same
// session id are additionally serialized so concurrent turns cannot tear
// each other's commits.
type Service struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (creating if needed) the sqlite database at dbPath.
func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Service{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// Create allocates a new empty session bound to documentID.
func (s *Service) Create(ctx context.Context, documentID string) (chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Title:      chat.DefaultTitle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, document_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.DocumentID, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return chat.Session{}, storageErr("create session", err)
	}

	return session, nil
}

// Load returns the ordered message list for a session. A session that does
// not exist reads as an empty history, not an error.
func (s *Service) Load(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, storageErr("load messages", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var msg chat.Message
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		msg.Role = chat.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load messages", err)
	}

	return messages, nil
}

// Save replaces the full message sequence for a session, creating the
// session record if absent and refreshing updated_at. The replacement is
// atomic: a concurrent Save on the same id commits either before or after
// this one, never interleaved.
func (s *Service) Save(ctx context.Context, sessionID, documentID string, messages []chat.Message) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin save", err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx, `SELECT title FROM sessions WHERE id = ?`, sessionID).Scan(&title)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		title = chat.DefaultTitle
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, document_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, documentID, title, now, now); err != nil {
			return storageErr("create session", err)
		}
	case err != nil:
		return storageErr("read session", err)
	}

	if title == chat.DefaultTitle {
		if derived := deriveTitle(messages); derived != "" {
			title = derived
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, now, sessionID); err != nil {
		return storageErr("update session", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return storageErr("clear messages", err)
	}

	for seq, msg := range messages {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, sessionID, seq, string(msg.Role), msg.Content, createdAt); err != nil {
			return storageErr("save message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit save", err)
	}
	return nil
}

// List returns session summaries ordered most-recently-updated first,
// optionally filtered by document id.
func (s *Service) List(ctx context.Context, documentID string) ([]chat.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT s.id, s.document_id, s.title, s.created_at, s.updated_at, COUNT(m.id)
        FROM sessions s
        LEFT JOIN messages m ON m.session_id = s.id
        WHERE ? = '' OR s.document_id = ?
        GROUP BY s.id
        ORDER BY s.updated_at DESC`,
		documentID, documentID)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()

	summaries := make([]chat.SessionSummary, 0)
	for rows.Next() {
		var summary chat.SessionSummary
		if err := rows.Scan(&summary.ID, &summary.DocumentID, &summary.Title,
			&summary.CreatedAt, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, storageErr("scan session", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sessions", err)
	}

	return summaries, nil
}

// Delete removes a session and all its messages. Deleting a session that
// does not exist is not an error.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return storageErr("delete messages", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return storageErr("delete session", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// deriveTitle labels a session after its first exchange with the opening
// user message, trimmed to a display-friendly length.
func deriveTitle(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role != chat.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(msg.Content), " ")
		if title == "" {
			return ""
		}
		runes := []rune(title)
		if len(runes) > 60 {
			title = string(runes[:60]) + "..."
		}
		return title
	}
	return ""
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
