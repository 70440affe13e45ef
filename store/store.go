package store

import (
	"errors"

	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// ErrNotFound is returned when a paper or session does not exist
var ErrNotFound = errors.New("not found")

// SessionStore is the durable, authoritative home of sessions. The engine
// loads a session at the start of a turn and saves it at the end; it never
// caches sessions across turns.
type SessionStore interface {
	// Load retrieves a session by id
	Load(sessionID string) (*model.Session, error)
	// Save stores or updates a session atomically
	Save(session *model.Session) error
	// AppendMessage durably appends a message to a session's history
	AppendMessage(sessionID string, msg *model.Message) error
	// DeleteSession removes a session
	DeleteSession(sessionID string) error
}

// PaperStore owns paper records and their message history views
type PaperStore interface {
	PutPaper(paper *model.Paper) error
	GetPaper(paperID string) (*model.Paper, error)
	ListPapers() ([]*model.Paper, error)
	DeletePaper(paperID string) error
	// MessagesByPaper returns the conversation in position order
	MessagesByPaper(paperID string) ([]*model.Message, error)
}

// ProfileStore owns the single shared user profile. SaveProfile is atomic;
// concurrent saves are last-write-wins at turn granularity.
type ProfileStore interface {
	LoadProfile() (*model.UserProfile, error)
	SaveProfile(profile *model.UserProfile) error
}

// Store is the full storage surface used by the service
type Store interface {
	SessionStore
	PaperStore
	ProfileStore
	Close() error
}
