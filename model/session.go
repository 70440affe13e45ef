package model

import "time"

// Session pairs one paper with one conversation. Created on first analysis,
// mutated on every turn, owned by the session store.
type Session struct {
	// SessionID is the unique identifier; one session per paper
	SessionID string

	// PaperID identifies the paper under discussion
	PaperID string

	// Language is the response language preference
	Language string

	// Messages is the ordered conversation history
	Messages []*Message

	// CurrentStage governs the next response
	CurrentStage Stage

	// CurrentSection is the section bound while in a section stage
	CurrentSection string

	// Plan is the reading plan produced at analysis time
	Plan ReadingPlan

	// ExtractedFigures are the figure artifacts already extracted for this
	// paper, kept for reuse rather than re-extraction
	ExtractedFigures []Figure

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReadingPlan is an ordered outline of suggested discussion steps for a
// paper. Produced once per paper; read-only thereafter except by
// regeneration.
type ReadingPlan struct {
	Items []PlanItem `json:"items" yaml:"items" bson:"items"`
}

// PlanItem is one step of a reading plan
type PlanItem struct {
	StageID     Stage  `json:"stage_id" yaml:"stage_id" bson:"stage_id"`
	Title       string `json:"title" yaml:"title" bson:"title"`
	Description string `json:"description" yaml:"description" bson:"description"`
}

// NewSession creates a fresh session for a paper
func NewSession(paperID, language string) *Session {
	now := time.Now()
	return &Session{
		SessionID:        "session-" + paperID,
		PaperID:          paperID,
		Language:         language,
		Messages:         []*Message{},
		CurrentStage:     "",
		ExtractedFigures: []Figure{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AppendMessage appends a message, assigning its ordering position
func (s *Session) AppendMessage(msg *Message) {
	msg.Position = len(s.Messages)
	s.Messages = append(s.Messages, msg)
}

// LastUserMessage returns the most recent user message, or nil
func (s *Session) LastUserMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i]
		}
	}
	return nil
}

// FindFigure returns the cached artifact for a normalized figure ref, if any
func (s *Session) FindFigure(ref string) (Figure, bool) {
	for _, fig := range s.ExtractedFigures {
		if fig.Ref == ref {
			return fig, true
		}
	}
	return Figure{}, false
}
