// Package store provides database access for conversations, personalities
// and their messages.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/choraleia/chatengine/pkg/db"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrEmptyAppend = errors.New("no messages to append")
)

// ConversationRecord is everything a turn needs to read: the roster in
// roster order, the full ordered history and the personality.
type ConversationRecord struct {
	Conversation db.Conversation
	Users        []db.User
	Messages     []db.Message
	Personality  db.Personality
}

// Repository is the persistence contract the services depend on.
type Repository interface {
	FindConversation(ctx context.Context, id uint) (*db.Conversation, error)
	FindConversationBySecret(ctx context.Context, secret string) (*db.Conversation, error)
	FindConversationByPersistenceToken(ctx context.Context, token string) (*db.Conversation, error)
	LoadConversationRecord(ctx context.Context, id uint) (*ConversationRecord, error)
	CreateConversation(ctx context.Context, conv *db.Conversation, users []db.User, systemPrompt string) (*db.Conversation, error)
	DeleteConversation(ctx context.Context, id uint) error

	SetBusy(ctx context.Context, id uint, busy bool) error
	TryAcquireBusy(ctx context.Context, id uint, token string, lease time.Duration) (bool, error)
	ClaimBusy(ctx context.Context, id uint, token string, lease time.Duration) error
	ReleaseBusy(ctx context.Context, id uint, token string) (bool, error)

	AppendMessages(ctx context.Context, conversationID uint, messages []db.Message) ([]db.Message, error)
	AppendMessageContext(ctx context.Context, messageID uint, entries []db.MessageContext) error
	AppendTurn(ctx context.Context, conversationID uint, messages []db.Message, entries []db.MessageContext) ([]db.Message, error)

	FindPersonality(ctx context.Context, hash string) (*db.Personality, error)
	CreatePersonality(ctx context.Context, hash, name, prompt string) (*db.Personality, error)

	SetConversationMembership(ctx context.Context, conversationID uint, users []db.User) error
}

// GormRepository implements Repository on top of gorm.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// New wraps an open gorm connection.
func New(database *gorm.DB) *GormRepository {
	return &GormRepository{db: database}
}

// AutoMigrate creates database tables
func (r *GormRepository) AutoMigrate() error {
	return db.Migrate(r.db)
}

// DB returns the underlying connection for custom queries
func (r *GormRepository) DB() *gorm.DB {
	return r.db
}

// Close closes the underlying connection pool.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
