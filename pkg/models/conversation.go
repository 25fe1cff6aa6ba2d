// API types for the conversation endpoints
package models

import (
	"errors"
	"strings"
)

var ErrPersonalityNameRequired = errors.New("personality name is required")

// PersonalityDefinition is the caller-supplied character a conversation is
// bound to. Field order is significant: it is the canonical hashing order.
type PersonalityDefinition struct {
	Name            string             `json:"name"`
	Bio             []string           `json:"bio"`
	Lore            []string           `json:"lore"`
	Knowledge       []string           `json:"knowledge"`
	MessageExamples [][]ExampleMessage `json:"messageExamples"`
}

// ExampleMessage is one line of an example dialogue.
type ExampleMessage struct {
	User    string `json:"user"`
	Content string `json:"content"`
}

// Validate checks the minimum a definition needs to render a prompt.
func (p *PersonalityDefinition) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrPersonalityNameRequired
	}
	return nil
}

// Participant is a user taking part in a conversation.
type Participant struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// ContextEntry is one caller-supplied key/value annotation for a turn.
type ContextEntry struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// TurnResult is what a caller sees after a turn. Content is empty when the
// exchange was flagged by moderation.
type TurnResult struct {
	Flagged bool   `json:"flagged"`
	Content string `json:"content"`
}

// ========== Conversation API types ==========

// CreateConversationRequest creates (or resumes, by persistence token) a conversation.
type CreateConversationRequest struct {
	PersistenceToken string                `json:"persistenceToken,omitempty"`
	Personality      PersonalityDefinition `json:"personality"`
	Users            []Participant         `json:"users" binding:"dive"`
}

// CreateConversationResponse returns the handle a caller uses for later calls.
type CreateConversationResponse struct {
	ID     uint   `json:"id"`
	Secret string `json:"secret"`
}

// SendMessageRequest submits one turn.
type SendMessageRequest struct {
	Secret   string         `json:"secret" binding:"required"`
	Message  string         `json:"message" binding:"required"`
	Context  []ContextEntry `json:"context" binding:"dive"`
	PlayerID string         `json:"playerId" binding:"required"`
}

// UpdateConversationRequest replaces the participant roster.
type UpdateConversationRequest struct {
	Secret string        `json:"secret" binding:"required"`
	Users  []Participant `json:"users" binding:"dive"`
}

// EndConversationRequest ends (deletes) a conversation.
type EndConversationRequest struct {
	Secret string `json:"secret" binding:"required"`
}
