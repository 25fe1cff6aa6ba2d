package db

import "time"

// Personality is a rendered system prompt, deduplicated by the hash of the
// definition it was rendered from. Rows are never updated.
type Personality struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Hash      string    `json:"hash" gorm:"uniqueIndex;size:64;not null"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Prompt    string    `json:"prompt" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Personality) TableName() string {
	return "personalities"
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{
		&Personality{},
		&User{},
		&Conversation{},
		&ConversationUser{},
		&Message{},
		&MessageContext{},
	}
}
