package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/chatengine/pkg/db"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	repo := New(database)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedConversation(t *testing.T, repo *GormRepository, users ...db.User) *db.Conversation {
	t.Helper()
	ctx := context.Background()
	p, err := repo.CreatePersonality(ctx, uuid.NewString(), "Aria", "You are Aria.")
	require.NoError(t, err)
	conv, err := repo.CreateConversation(ctx, &db.Conversation{
		Secret:        uuid.NewString(),
		PersonalityID: p.ID,
	}, users, p.Prompt)
	require.NoError(t, err)
	return conv
}

func TestCreateConversation_WritesSystemMessageAndRoster(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conv := seedConversation(t, repo, db.User{ID: "u2", Name: "Bea"}, db.User{ID: "u1", Name: "Sam"})
	require.NotZero(t, conv.ID)

	record, err := repo.LoadConversationRecord(ctx, conv.ID)
	require.NoError(t, err)

	assert.Equal(t, "You are Aria.", record.Personality.Prompt)
	require.Len(t, record.Messages, 1)
	assert.Equal(t, db.RoleSystem, record.Messages[0].Role)
	assert.Equal(t, "You are Aria.", record.Messages[0].Content)

	require.Len(t, record.Users, 2)
	assert.Equal(t, "u2", record.Users[0].ID)
	assert.Equal(t, "u1", record.Users[1].ID)
	assert.False(t, record.Conversation.Busy)
}

func TestFindConversation_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.FindConversation(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindConversationBySecret(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindConversationByPersistenceToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.LoadConversationRecord(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindConversationByPersistenceToken(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p, err := repo.CreatePersonality(ctx, "hash-1", "Aria", "You are Aria.")
	require.NoError(t, err)

	token := "save-slot-1"
	conv, err := repo.CreateConversation(ctx, &db.Conversation{
		Secret:           uuid.NewString(),
		PersistenceToken: &token,
		PersonalityID:    p.ID,
	}, nil, p.Prompt)
	require.NoError(t, err)

	found, err := repo.FindConversationByPersistenceToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)

	bySecret, err := repo.FindConversationBySecret(ctx, conv.Secret)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, bySecret.ID)
}

func TestTryAcquireBusy(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo)

	ok, err := repo.TryAcquireBusy(ctx, conv.ID, "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TryAcquireBusy(ctx, conv.ID, "b", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while busy")

	require.NoError(t, repo.SetBusy(ctx, conv.ID, false))

	ok, err = repo.TryAcquireBusy(ctx, conv.ID, "c", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.TryAcquireBusy(ctx, 12345, "d", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.SetBusy(ctx, 12345, false), ErrNotFound)
}

func TestTryAcquireBusy_ExpiredLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo)

	ok, err := repo.TryAcquireBusy(ctx, conv.ID, "stale", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	ok, err = repo.TryAcquireBusy(ctx, conv.ID, "fresh", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	found, err := repo.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", found.LockToken)
	assert.Greater(t, found.LockExpiresAt, time.Now().UnixMilli())
}

func TestReleaseBusy_OwnerOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo)

	require.NoError(t, repo.ClaimBusy(ctx, conv.ID, "owner", time.Minute))

	released, err := repo.ReleaseBusy(ctx, conv.ID, "intruder")
	require.NoError(t, err)
	assert.False(t, released)

	found, err := repo.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, found.Busy)

	released, err = repo.ReleaseBusy(ctx, conv.ID, "owner")
	require.NoError(t, err)
	assert.True(t, released)

	found, err = repo.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, found.Busy)
	assert.Empty(t, found.LockToken)
	assert.Zero(t, found.LockExpiresAt)

	_, err = repo.ReleaseBusy(ctx, 12345, "owner")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.ClaimBusy(ctx, 12345, "owner", 0), ErrNotFound)
}

func TestTryAcquireBusy_SingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TryAcquireBusy(ctx, conv.ID, uuid.NewString(), time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestAppendTurn_OrderAndContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo, db.User{ID: "u1", Name: "Sam"})

	turn := []db.Message{
		db.NewSystemMessage("# Context\nusers: Sam\nusername: Sam"),
		db.NewUserMessage("Hi", "u1"),
		db.NewAssistantMessage("Hello Sam!"),
	}
	entries := []db.MessageContext{{Key: "location", Value: "tavern"}, {Key: "time", Value: "night"}}

	saved, err := repo.AppendTurn(ctx, conv.ID, turn, entries)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Less(t, saved[0].ID, saved[1].ID)
	assert.Less(t, saved[1].ID, saved[2].ID)

	record, err := repo.LoadConversationRecord(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, record.Messages, 4)
	assert.Equal(t, db.RoleSystem, record.Messages[1].Role)
	assert.Equal(t, "Hi", record.Messages[2].Content)
	require.NotNil(t, record.Messages[2].SenderID)
	assert.Equal(t, "u1", *record.Messages[2].SenderID)
	assert.Equal(t, "Hello Sam!", record.Messages[3].Content)

	var rows []db.MessageContext
	require.NoError(t, repo.DB().Order("position").Find(&rows, "message_id = ?", saved[2].ID).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "location", rows[0].Key)
	assert.Equal(t, "night", rows[1].Value)
}

func TestAppendMessages_Empty(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.AppendMessages(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrEmptyAppend)
	_, err = repo.AppendTurn(context.Background(), 1, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyAppend)
}

func TestAppendMessagesAndContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo)

	saved, err := repo.AppendMessages(ctx, conv.ID, []db.Message{db.NewUserMessage("one", "u9")})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	require.NoError(t, repo.AppendMessageContext(ctx, saved[0].ID, []db.MessageContext{{Key: "k", Value: "v"}}))
	require.NoError(t, repo.AppendMessageContext(ctx, saved[0].ID, nil))

	var count int64
	require.NoError(t, repo.DB().Model(&db.MessageContext{}).Where("message_id = ?", saved[0].ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSetConversationMembership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo, db.User{ID: "u1", Name: "Sam"}, db.User{ID: "u2", Name: "Bea"})

	err := repo.SetConversationMembership(ctx, conv.ID, []db.User{
		{ID: "u3", Name: "Cal"},
		{ID: "u1", Name: "Samuel"},
		{ID: "u3", Name: "Callum"},
	})
	require.NoError(t, err)

	record, err := repo.LoadConversationRecord(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, record.Users, 2)
	assert.Equal(t, "u3", record.Users[0].ID)
	assert.Equal(t, "Callum", record.Users[0].Name)
	assert.Equal(t, "u1", record.Users[1].ID)
	assert.Equal(t, "Samuel", record.Users[1].Name)

	require.NoError(t, repo.SetConversationMembership(ctx, conv.ID, nil))
	record, err = repo.LoadConversationRecord(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, record.Users)

	assert.ErrorIs(t, repo.SetConversationMembership(ctx, 999, nil), ErrNotFound)
}

func TestUsersSharedAcrossConversations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedConversation(t, repo, db.User{ID: "u1", Name: "Sam"})
	b := seedConversation(t, repo, db.User{ID: "u1", Name: "Sammy"})

	ra, err := repo.LoadConversationRecord(ctx, a.ID)
	require.NoError(t, err)
	rb, err := repo.LoadConversationRecord(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, "Sammy", ra.Users[0].Name, "name refresh is global")
	assert.Equal(t, ra.Users[0].ID, rb.Users[0].ID)
}

func TestDeleteConversation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := seedConversation(t, repo, db.User{ID: "u1", Name: "Sam"})

	_, err := repo.AppendTurn(ctx, conv.ID,
		[]db.Message{db.NewUserMessage("Hi", "u1"), db.NewAssistantMessage("Hello")},
		[]db.MessageContext{{Key: "k", Value: "v"}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteConversation(ctx, conv.ID))

	_, err = repo.FindConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var messages, contexts, members, users int64
	repo.DB().Model(&db.Message{}).Count(&messages)
	repo.DB().Model(&db.MessageContext{}).Count(&contexts)
	repo.DB().Model(&db.ConversationUser{}).Count(&members)
	repo.DB().Model(&db.User{}).Count(&users)
	assert.Zero(t, messages)
	assert.Zero(t, contexts)
	assert.Zero(t, members)
	assert.Equal(t, int64(1), users, "users outlive conversations")

	assert.ErrorIs(t, repo.DeleteConversation(ctx, conv.ID), ErrNotFound)
}

func TestCreatePersonality_DuplicateHash(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.CreatePersonality(ctx, "same", "Aria", "p")
	require.NoError(t, err)

	_, err = repo.CreatePersonality(ctx, "same", "Aria", "p")
	require.Error(t, err)

	found, err := repo.FindPersonality(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.FindPersonality(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}
