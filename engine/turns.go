package engine

import (
	"errors"
	"sync"
)

// ErrTurnInProgress is returned when a session already has an active turn
var ErrTurnInProgress = errors.New("a turn is already in progress for this session")

// TurnGuard holds the per-session in-progress flag. A session runs at most
// one agent loop at a time; concurrent turns are rejected, not queued.
type TurnGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewTurnGuard returns a new TurnGuard
func NewTurnGuard() *TurnGuard {
	return &TurnGuard{active: make(map[string]bool)}
}

// Begin marks the session as in progress. Returns ErrTurnInProgress if a
// turn is already running; on success the caller must End when done.
func (g *TurnGuard) Begin(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[sessionID] {
		return ErrTurnInProgress
	}
	g.active[sessionID] = true
	return nil
}

// End clears the in-progress flag for the session
func (g *TurnGuard) End(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, sessionID)
}
