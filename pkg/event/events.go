package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationCreated = "conversation.created"
	ConversationUpdated = "conversation.updated"
	ConversationEnded   = "conversation.ended"
	TurnCompleted       = "turn.completed"
	TurnFlagged         = "turn.flagged"
	TurnFailed          = "turn.failed"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationCreatedEvent is emitted when a conversation is created or
// resumed by persistence token.
type ConversationCreatedEvent struct {
	ConversationID uint `json:"conversationId"`
	PersonalityID  uint `json:"personalityId"`
	Resumed        bool `json:"resumed"`
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }

// ConversationUpdatedEvent is emitted when the roster changes.
type ConversationUpdatedEvent struct {
	ConversationID uint `json:"conversationId"`
	Users          int  `json:"users"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationEndedEvent is emitted after a conversation is deleted.
type ConversationEndedEvent struct {
	ConversationID uint `json:"conversationId"`
}

func (e ConversationEndedEvent) EventName() string { return ConversationEnded }

// ============================================================================
// Turn Events
// ============================================================================

// TurnCompletedEvent is emitted after an unflagged turn is persisted.
type TurnCompletedEvent struct {
	ConversationID uint   `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Tokens         int    `json:"tokens"`
}

func (e TurnCompletedEvent) EventName() string { return TurnCompleted }

// TurnFlaggedEvent is emitted after a flagged turn is persisted.
type TurnFlaggedEvent struct {
	ConversationID uint     `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Categories     []string `json:"categories"`
}

func (e TurnFlaggedEvent) EventName() string { return TurnFlagged }

// TurnFailedEvent is emitted when a turn fails after acquiring the lock.
type TurnFailedEvent struct {
	ConversationID uint   `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Reason         string `json:"reason"` // model, moderation, sender, storage
}

func (e TurnFailedEvent) EventName() string { return TurnFailed }
