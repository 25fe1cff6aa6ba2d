// Database models for chat conversations
package db

import "time"

// Conversation is one chat session bound to a personality and a roster of
// participants. PersonalityID is set at creation and never updated.
type Conversation struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Secret           string    `json:"-" gorm:"uniqueIndex;size:36;not null"`
	PersistenceToken *string   `json:"persistence_token,omitempty" gorm:"uniqueIndex;size:255"`
	Busy             bool      `json:"busy" gorm:"not null;default:false"`
	LockToken        string    `json:"-" gorm:"size:36;not null;default:''"`
	LockExpiresAt    int64     `json:"-" gorm:"not null;default:0"` // unix ms; 0 = held until released
	PersonalityID    uint      `json:"personality_id" gorm:"index;not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Personality *Personality `json:"personality,omitempty" gorm:"foreignKey:PersonalityID"`
	Users       []User       `json:"users,omitempty" gorm:"many2many:conversation_users;"`
	Messages    []Message    `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// User is a participant identified by the caller (e.g. a player id).
// Users are shared across conversations.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// ConversationUser is the membership join table. Position keeps the roster
// in the order the caller supplied it.
type ConversationUser struct {
	ConversationID uint   `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey;size:64"`
	Position       int    `gorm:"not null;default:0"`
}

func (ConversationUser) TableName() string {
	return "conversation_users"
}
