package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// MemoryStore is an in-memory implementation of Store, used by tests and as
// a zero-dependency fallback backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	papers   map[string]*model.Paper
	messages map[string][]*model.Message // paper id -> ordered messages
	profile  *model.UserProfile
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		papers:   make(map[string]*model.Paper),
		messages: make(map[string][]*model.Message),
		profile:  &model.UserProfile{},
	}
}

// Load retrieves a session by ID
func (s *MemoryStore) Load(sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return session, nil
}

// Save stores or updates a session
func (s *MemoryStore) Save(session *model.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session.UpdatedAt = time.Now()
	s.sessions[session.SessionID] = session
	return nil
}

// AppendMessage appends a message to the session history
func (s *MemoryStore) AppendMessage(sessionID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	session.AppendMessage(msg)
	session.UpdatedAt = time.Now()
	s.messages[msg.PaperID] = append(s.messages[msg.PaperID], msg)
	return nil
}

// DeleteSession removes a session
func (s *MemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// PutPaper stores or updates a paper record
func (s *MemoryStore) PutPaper(paper *model.Paper) error {
	if paper == nil {
		return fmt.Errorf("paper cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.papers[paper.PaperID] = paper
	return nil
}

// GetPaper retrieves a paper by ID
func (s *MemoryStore) GetPaper(paperID string) (*model.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paper, ok := s.papers[paperID]
	if !ok {
		return nil, fmt.Errorf("paper %s: %w", paperID, ErrNotFound)
	}
	return paper, nil
}

// ListPapers returns all papers, newest first
func (s *MemoryStore) ListPapers() ([]*model.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	papers := make([]*model.Paper, 0, len(s.papers))
	for _, paper := range s.papers {
		papers = append(papers, paper)
	}
	sort.Slice(papers, func(i, j int) bool {
		return papers[i].CreatedAt.After(papers[j].CreatedAt)
	})
	return papers, nil
}

// DeletePaper removes a paper, its messages, and its session
func (s *MemoryStore) DeletePaper(paperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.papers, paperID)
	delete(s.messages, paperID)
	for id, session := range s.sessions {
		if session.PaperID == paperID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// MessagesByPaper returns the conversation in position order
func (s *MemoryStore) MessagesByPaper(paperID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[paperID]
	out := make([]*model.Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// LoadProfile returns the shared user profile
func (s *MemoryStore) LoadProfile() (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := *s.profile
	copied.KeyPoints = append([]string(nil), s.profile.KeyPoints...)
	return &copied, nil
}

// SaveProfile replaces the shared user profile (last write wins)
func (s *MemoryStore) SaveProfile(profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile.UpdatedAt = time.Now()
	copied := *profile
	copied.KeyPoints = append([]string(nil), profile.KeyPoints...)
	s.profile = &copied
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
