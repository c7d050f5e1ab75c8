package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation ID has no row.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations in a SQLite database so chats survive
// daemon restarts and crashes. Turns are written as they complete, not at
// shutdown.
type Store struct {
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("conversation store path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare conversation store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init conversations schema: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init turns schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AppendTurns records completed turns for a conversation, creating the
// conversation row on first write. The title is derived from the first
// user turn and kept stable afterwards.
func (s *Store) AppendTurns(conversationID, projectID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	now := time.Now()
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id=?`, conversationID).Scan(&exists); err != nil {
		tx.Rollback()
		return err
	}
	if exists == 0 {
		title := TitleFor(firstUserContent(turns), now)
		if _, err := tx.Exec(`INSERT INTO conversations (id, project_id, title, created_at, updated_at) VALUES (?,?,?,?,?)`,
			conversationID, projectID, title, now, now); err != nil {
			tx.Rollback()
			return err
		}
	} else {
		if _, err := tx.Exec(`UPDATE conversations SET updated_at=? WHERE id=?`, now, conversationID); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, turn := range turns {
		at := turn.At
		if at.IsZero() {
			at = now
		}
		if _, err := tx.Exec(`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?,?,?,?)`,
			conversationID, turn.Role, turn.Content, at); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Get loads a conversation with its turns in insertion order.
func (s *Store) Get(id string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRow(`SELECT id, project_id, title, created_at, updated_at FROM conversations WHERE id=?`, id).
		Scan(&conv.ID, &conv.ProjectID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	rows, err := s.db.Query(`SELECT role, content, created_at FROM turns WHERE conversation_id=? ORDER BY id ASC`, id)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.At); err != nil {
			return Conversation{}, err
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, rows.Err()
}

// List returns conversation metadata for a project, most recently updated
// first. Turns are not loaded. An empty projectID lists everything.
func (s *Store) List(projectID string) ([]Conversation, error) {
	query := `SELECT id, project_id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	args := []any{}
	if projectID != "" {
		query = `SELECT id, project_id, title, created_at, updated_at FROM conversations WHERE project_id=? ORDER BY updated_at DESC`
		args = append(args, projectID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.ProjectID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its turns.
func (s *Store) Delete(id string) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id=?`, id); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE id=?`, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

func firstUserContent(turns []Turn) string {
	for _, turn := range turns {
		if turn.Role == RoleUser {
			return turn.Content
		}
	}
	if len(turns) > 0 {
		return turns[0].Content
	}
	return ""
}
