package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default durable Store. Sessions are serialized to JSON
// in a single column; papers and messages get relational tables so the HTTP
// surface can query them without deserializing sessions.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore creates a new SQLite store. If dbPath is empty, an
// in-memory database is used. The parent directory is created when needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection avoids table-lock races with the in-memory DB
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			file_path TEXT NOT NULL,
			language TEXT NOT NULL,
			summary TEXT,
			profile TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			paper_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (paper_id) REFERENCES papers (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_paper ON messages (paper_id, position)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			paper_id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_profile (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL DEFAULT '',
			key_points TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO user_profile (id, name, key_points, updated_at) VALUES (1, '', '[]', ?)`,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to seed user profile: %w", err)
	}
	return nil
}

// Load retrieves a session by ID
func (s *SQLiteStore) Load(sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Save stores or updates a session
func (s *SQLiteStore) Save(session *model.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(session)
}

func (s *SQLiteStore) saveLocked(session *model.Session) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, paper_id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		session.SessionID, session.PaperID, string(data), session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// AppendMessage appends a message to the session history and the messages
// table in one transaction
func (s *SQLiteStore) AppendMessage(sessionID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	session.AppendMessage(msg)

	if err := s.saveLocked(&session); err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (id, paper_id, role, content, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.PaperID, msg.Role, msg.Content, msg.Position, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// DeleteSession removes a session
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PutPaper stores or updates a paper record
func (s *SQLiteStore) PutPaper(paper *model.Paper) error {
	if paper == nil {
		return fmt.Errorf("paper cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := json.Marshal(paper.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode paper profile: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO papers (id, title, file_path, language, summary, profile, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, summary = excluded.summary, profile = excluded.profile`,
		paper.PaperID, paper.Title, paper.FilePath, paper.Language, paper.Summary, string(profile), paper.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save paper: %w", err)
	}
	return nil
}

// GetPaper retrieves a paper by ID
func (s *SQLiteStore) GetPaper(paperID string) (*model.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanPaper(s.db.QueryRow(
		`SELECT id, title, file_path, language, summary, profile, created_at FROM papers WHERE id = ?`,
		paperID,
	))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanPaper(row rowScanner) (*model.Paper, error) {
	var paper model.Paper
	var summary, profile sql.NullString
	err := row.Scan(&paper.PaperID, &paper.Title, &paper.FilePath, &paper.Language, &summary, &profile, &paper.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paper: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load paper: %w", err)
	}
	paper.Summary = summary.String
	if profile.Valid && profile.String != "" {
		if err := json.Unmarshal([]byte(profile.String), &paper.Profile); err != nil {
			return nil, fmt.Errorf("failed to decode paper profile: %w", err)
		}
	}
	return &paper, nil
}

// ListPapers returns all papers, newest first
func (s *SQLiteStore) ListPapers() ([]*model.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, title, file_path, language, summary, profile, created_at FROM papers ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []*model.Paper
	for rows.Next() {
		paper, err := s.scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, paper)
	}
	return papers, rows.Err()
}

// DeletePaper removes a paper, its messages, and its session
func (s *SQLiteStore) DeletePaper(paperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE paper_id = ?`,
		`DELETE FROM sessions WHERE paper_id = ?`,
		`DELETE FROM papers WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, paperID); err != nil {
			return fmt.Errorf("failed to delete paper: %w", err)
		}
	}
	return tx.Commit()
}

// MessagesByPaper returns the conversation in position order
func (s *SQLiteStore) MessagesByPaper(paperID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, paper_id, role, content, position, created_at FROM messages WHERE paper_id = ? ORDER BY position ASC`,
		paperID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.MessageID, &msg.PaperID, &msg.Role, &msg.Content, &msg.Position, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// LoadProfile returns the shared user profile
func (s *SQLiteStore) LoadProfile() (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var profile model.UserProfile
	var keyPoints string
	err := s.db.QueryRow(`SELECT name, key_points, updated_at FROM user_profile WHERE id = 1`).
		Scan(&profile.Name, &keyPoints, &profile.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if err := json.Unmarshal([]byte(keyPoints), &profile.KeyPoints); err != nil {
		return nil, fmt.Errorf("failed to decode profile key points: %w", err)
	}
	return &profile, nil
}

// SaveProfile replaces the shared user profile atomically (last write wins)
func (s *SQLiteStore) SaveProfile(profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keyPoints, err := json.Marshal(profile.KeyPoints)
	if err != nil {
		return fmt.Errorf("failed to encode profile key points: %w", err)
	}
	profile.UpdatedAt = time.Now()

	_, err = s.db.Exec(
		`UPDATE user_profile SET name = ?, key_points = ?, updated_at = ? WHERE id = 1`,
		profile.Name, string(keyPoints), profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
