package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/choraleia/chatengine/pkg/db"
)

func (r *GormRepository) FindConversation(ctx context.Context, id uint) (*db.Conversation, error) {
	var conv db.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (r *GormRepository) FindConversationBySecret(ctx context.Context, secret string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "secret = ?", secret).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (r *GormRepository) FindConversationByPersistenceToken(ctx context.Context, token string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "persistence_token = ?", token).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// LoadConversationRecord reads the conversation, its roster, its ordered
// history and its personality in one read transaction.
func (r *GormRepository) LoadConversationRecord(ctx context.Context, id uint) (*ConversationRecord, error) {
	var record ConversationRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record.Conversation, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		if err := tx.First(&record.Personality, "id = ?", record.Conversation.PersonalityID).Error; err != nil {
			return errors.Wrapf(notFound(err), "load personality %d", record.Conversation.PersonalityID)
		}

		users, err := rosterOf(tx, id)
		if err != nil {
			return err
		}
		record.Users = users

		if err := tx.Where("conversation_id = ?", id).
			Order("created_at ASC").Order("id ASC").
			Find(&record.Messages).Error; err != nil {
			return errors.Wrap(err, "load messages")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func rosterOf(tx *gorm.DB, conversationID uint) ([]db.User, error) {
	var users []db.User
	err := tx.Model(&db.User{}).
		Joins("JOIN conversation_users ON conversation_users.user_id = users.id").
		Where("conversation_users.conversation_id = ?", conversationID).
		Order("conversation_users.position ASC").
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "load roster")
	}
	return users, nil
}

// CreateConversation inserts the conversation, connects (or creates) its
// users and writes the personality prompt as the first message, atomically.
func (r *GormRepository) CreateConversation(ctx context.Context, conv *db.Conversation, users []db.User, systemPrompt string) (*db.Conversation, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(conv).Error; err != nil {
			return errors.Wrap(err, "create conversation")
		}
		if err := replaceMembership(tx, conv.ID, users); err != nil {
			return err
		}
		first := db.NewSystemMessage(systemPrompt)
		first.ConversationID = conv.ID
		if err := tx.Create(&first).Error; err != nil {
			return errors.Wrap(err, "create system message")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// SetConversationMembership replaces the full roster and refreshes the
// names of users that stay.
func (r *GormRepository) SetConversationMembership(ctx context.Context, conversationID uint, users []db.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "check conversation")
		}
		if count == 0 {
			return ErrNotFound
		}
		return replaceMembership(tx, conversationID, users)
	})
}

func replaceMembership(tx *gorm.DB, conversationID uint, users []db.User) error {
	users = dedupeUsers(users)

	if len(users) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(&users).Error
		if err != nil {
			return errors.Wrap(err, "upsert users")
		}
	}

	if err := tx.Where("conversation_id = ?", conversationID).Delete(&db.ConversationUser{}).Error; err != nil {
		return errors.Wrap(err, "clear membership")
	}
	if len(users) == 0 {
		return nil
	}

	members := make([]db.ConversationUser, len(users))
	for i, u := range users {
		members[i] = db.ConversationUser{ConversationID: conversationID, UserID: u.ID, Position: i}
	}
	if err := tx.Create(&members).Error; err != nil {
		return errors.Wrap(err, "insert membership")
	}
	return nil
}

// dedupeUsers keeps the first position of each id and its last name.
func dedupeUsers(users []db.User) []db.User {
	index := make(map[string]int, len(users))
	out := make([]db.User, 0, len(users))
	for _, u := range users {
		if i, ok := index[u.ID]; ok {
			out[i].Name = u.Name
			continue
		}
		index[u.ID] = len(out)
		out = append(out, db.User{ID: u.ID, Name: u.Name})
	}
	return out
}

// DeleteConversation removes the conversation and everything it owns.
func (r *GormRepository) DeleteConversation(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&db.Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&db.MessageContext{}).Error; err != nil {
			return errors.Wrap(err, "delete message context")
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&db.Message{}).Error; err != nil {
			return errors.Wrap(err, "delete messages")
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&db.ConversationUser{}).Error; err != nil {
			return errors.Wrap(err, "delete membership")
		}
		res := tx.Delete(&db.Conversation{}, "id = ?", id)
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete conversation")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetBusy sets the busy flag unconditionally. Clearing it also drops the
// owner token and lease.
func (r *GormRepository) SetBusy(ctx context.Context, id uint, busy bool) error {
	updates := map[string]any{"busy": busy}
	if !busy {
		updates["lock_token"] = ""
		updates["lock_expires_at"] = 0
	}
	res := r.db.WithContext(ctx).Model(&db.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set busy=%t on conversation %d", busy, id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TryAcquireBusy flips busy from false to true in a single conditional
// update and records token as the owner. A holder whose lease has run out
// is replaced. lease <= 0 means the lock never expires. It returns false
// when another turn holds the conversation.
func (r *GormRepository) TryAcquireBusy(ctx context.Context, id uint, token string, lease time.Duration) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("id = ? AND (busy = ? OR (lock_expires_at > 0 AND lock_expires_at < ?))", id, false, now.UnixMilli()).
		Updates(busyUpdates(token, lease, now))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "acquire conversation %d", id)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if _, err := r.FindConversation(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ClaimBusy marks the conversation busy for token regardless of the current
// holder. It mirrors a lock that is arbitrated elsewhere.
func (r *GormRepository) ClaimBusy(ctx context.Context, id uint, token string, lease time.Duration) error {
	res := r.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("id = ?", id).
		Updates(busyUpdates(token, lease, time.Now()))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "claim conversation %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseBusy clears busy only while token still owns the conversation. It
// returns false when another owner has taken over since.
func (r *GormRepository) ReleaseBusy(ctx context.Context, id uint, token string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("id = ? AND lock_token = ?", id, token).
		Updates(map[string]any{"busy": false, "lock_token": "", "lock_expires_at": 0})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "release conversation %d", id)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if _, err := r.FindConversation(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func busyUpdates(token string, lease time.Duration, now time.Time) map[string]any {
	var expiresAt int64
	if lease > 0 {
		expiresAt = now.Add(lease).UnixMilli()
	}
	return map[string]any{"busy": true, "lock_token": token, "lock_expires_at": expiresAt}
}
