package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/choraleia/chatengine/pkg/store"
)

// TurnLock guarantees at most one in-flight turn per conversation.
type TurnLock interface {
	// TryAcquire returns false when another turn holds the conversation.
	// The returned token identifies this holder and must be passed to Release.
	TryAcquire(ctx context.Context, conversationID uint) (token string, ok bool, err error)
	// Release gives up the lock only if token still owns it.
	Release(ctx context.Context, conversationID uint, token string) error
}

// StoreTurnLock uses the conversation's busy column as the lock. Acquire is a
// single conditional update, so it holds across processes sharing a database.
// A holder that outlives its lease, e.g. after a crash, is replaced by the
// next acquirer.
type StoreTurnLock struct {
	repo  store.Repository
	lease time.Duration
}

// NewStoreTurnLock returns a lock whose holders expire after lease.
// lease <= 0 keeps a holder until it releases.
func NewStoreTurnLock(repo store.Repository, lease time.Duration) *StoreTurnLock {
	return &StoreTurnLock{repo: repo, lease: lease}
}

func (l *StoreTurnLock) TryAcquire(ctx context.Context, conversationID uint) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.repo.TryAcquireBusy(ctx, conversationID, token, l.lease)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, ErrConversationNotFound
		}
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *StoreTurnLock) Release(ctx context.Context, conversationID uint, token string) error {
	_, err := l.repo.ReleaseBusy(ctx, conversationID, token)
	if errors.Is(err, store.ErrNotFound) {
		// Ended while the turn was running.
		return nil
	}
	return err
}

// compare-and-delete: only the owner token may release
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTurnLock holds the lock in Redis with a TTL so a crashed process
// cannot wedge a conversation. The busy column is mirrored for visibility,
// owned by the same token as the Redis key.
type RedisTurnLock struct {
	client redis.Cmdable
	repo   store.Repository
	ttl    time.Duration
}

func NewRedisTurnLock(client redis.Cmdable, repo store.Repository, ttl time.Duration) *RedisTurnLock {
	return &RedisTurnLock{
		client: client,
		repo:   repo,
		ttl:    ttl,
	}
}

// NewRedisClient builds the client used by RedisTurnLock.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 10 * time.Second,
	})
}

func turnLockKey(conversationID uint) string {
	return "chatengine:turn:" + strconv.FormatUint(uint64(conversationID), 10)
}

func (l *RedisTurnLock) TryAcquire(ctx context.Context, conversationID uint) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, turnLockKey(conversationID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire redis turn lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	if err := l.repo.ClaimBusy(ctx, conversationID, token, l.ttl); err != nil {
		_, _ = l.releaseKey(context.WithoutCancel(ctx), conversationID, token)
		if errors.Is(err, store.ErrNotFound) {
			return "", false, ErrConversationNotFound
		}
		return "", false, err
	}
	return token, true, nil
}

// Release deletes the key and clears busy only where token is still the
// owner; a holder that outlived its TTL leaves its successor untouched.
func (l *RedisTurnLock) Release(ctx context.Context, conversationID uint, token string) error {
	_, keyErr := l.releaseKey(ctx, conversationID, token)

	_, busyErr := l.repo.ReleaseBusy(ctx, conversationID, token)
	if errors.Is(busyErr, store.ErrNotFound) {
		busyErr = nil
	}
	return errors.Join(keyErr, busyErr)
}

func (l *RedisTurnLock) releaseKey(ctx context.Context, conversationID uint, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, l.client, []string{turnLockKey(conversationID)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release redis turn lock: %w", err)
	}
	return deleted == 1, nil
}
