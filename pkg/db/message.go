// Database models for chat messages
package db

import "time"

// Message is one entry of a conversation's history. IDs are assigned in
// insertion order, so (created_at, id) is the canonical ordering.
type Message struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"index;not null"`
	Role           string    `json:"role" gorm:"size:20;not null"` // system, user, assistant
	Content        string    `json:"content" gorm:"type:text"`
	SenderID       *string   `json:"sender_id,omitempty" gorm:"size:64"` // only for role=user
	CreatedAt      time.Time `json:"created_at"`

	Context []MessageContext `json:"context,omitempty" gorm:"foreignKey:MessageID"`
}

func (*Message) TableName() string {
	return "messages"
}

// MessageContext is an ordered key/value annotation attached to a message.
type MessageContext struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	MessageID uint   `json:"message_id" gorm:"index;not null"`
	Position  int    `json:"position" gorm:"not null;default:0"`
	Key       string `json:"key" gorm:"size:255;not null"`
	Value     string `json:"value" gorm:"type:text"`
}

func (*MessageContext) TableName() string {
	return "message_contexts"
}

// Message roles (OpenAI standard)
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// NewSystemMessage, NewUserMessage and NewAssistantMessage build unsaved
// messages for a turn's write set.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content, senderID string) Message {
	return Message{Role: RoleUser, Content: content, SenderID: &senderID}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
