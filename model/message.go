package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// Message is one conversation entry. Immutable once appended to a session.
type Message struct {
	// MessageID is a unique identifier for this message
	MessageID string

	// PaperID identifies the paper conversation this message belongs to
	PaperID string

	// Role is the message role (user or assistant)
	Role string

	// Content is the message text
	Content string

	// Position is the ordering index within the conversation (0-based)
	Position int

	CreatedAt time.Time
}

// NewUserMessage creates a message for a user input. Position is assigned
// when the message is appended to a session.
func NewUserMessage(paperID, content string) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		PaperID:   paperID,
		Role:      openai.ChatMessageRoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates a message for an agent response
func NewAssistantMessage(paperID, content string) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		PaperID:   paperID,
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
