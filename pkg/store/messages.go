package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/choraleia/chatengine/pkg/db"
)

// AppendMessages inserts messages in slice order and returns them with ids.
func (r *GormRepository) AppendMessages(ctx context.Context, conversationID uint, messages []db.Message) ([]db.Message, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyAppend
	}
	out := prepareMessages(conversationID, messages)
	if err := r.db.WithContext(ctx).Create(&out).Error; err != nil {
		return nil, errors.Wrap(err, "append messages")
	}
	return out, nil
}

// AppendMessageContext attaches key/value entries to an existing message.
func (r *GormRepository) AppendMessageContext(ctx context.Context, messageID uint, entries []db.MessageContext) error {
	if len(entries) == 0 {
		return nil
	}
	rows := prepareContext(messageID, entries)
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Wrapf(err, "append context to message %d", messageID)
	}
	return nil
}

// AppendTurn writes every message of a turn and the turn's context entries
// in one transaction. The entries are attached to the last message.
func (r *GormRepository) AppendTurn(ctx context.Context, conversationID uint, messages []db.Message, entries []db.MessageContext) ([]db.Message, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyAppend
	}
	out := prepareMessages(conversationID, messages)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&out).Error; err != nil {
			return errors.Wrap(err, "append turn messages")
		}
		if len(entries) == 0 {
			return nil
		}
		last := &out[len(out)-1]
		rows := prepareContext(last.ID, entries)
		if err := tx.Create(&rows).Error; err != nil {
			return errors.Wrap(err, "append turn context")
		}
		last.Context = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func prepareMessages(conversationID uint, messages []db.Message) []db.Message {
	out := make([]db.Message, len(messages))
	for i, m := range messages {
		out[i] = db.Message{
			ConversationID: conversationID,
			Role:           m.Role,
			Content:        m.Content,
			SenderID:       m.SenderID,
		}
	}
	return out
}

func prepareContext(messageID uint, entries []db.MessageContext) []db.MessageContext {
	rows := make([]db.MessageContext, len(entries))
	for i, e := range entries {
		rows[i] = db.MessageContext{MessageID: messageID, Position: i, Key: e.Key, Value: e.Value}
	}
	return rows
}
