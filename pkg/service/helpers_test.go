package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/tokenizer"
)

// wordCounter counts whitespace-separated words.
var wordCounter = tokenizer.CounterFunc(func(text string) int { return len(strings.Fields(text)) })

func newTestRepo(t *testing.T) *store.GormRepository {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	repo := store.New(database)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedConversation(t *testing.T, repo *store.GormRepository, prompt string, users ...db.User) *db.Conversation {
	t.Helper()
	ctx := context.Background()
	p, err := repo.CreatePersonality(ctx, uuid.NewString(), "Aria", prompt)
	require.NoError(t, err)
	conv, err := repo.CreateConversation(ctx, &db.Conversation{
		Secret:        uuid.NewString(),
		PersonalityID: p.ID,
	}, users, prompt)
	require.NoError(t, err)
	return conv
}

func busyOf(t *testing.T, repo *store.GormRepository, id uint) bool {
	t.Helper()
	conv, err := repo.FindConversation(context.Background(), id)
	require.NoError(t, err)
	return conv.Busy
}

func messagesOf(t *testing.T, repo *store.GormRepository, id uint) []db.Message {
	t.Helper()
	record, err := repo.LoadConversationRecord(context.Background(), id)
	require.NoError(t, err)
	return record.Messages
}

// fakeModel is a scripted ModelClient that records its prompts.
type fakeModel struct {
	mu      sync.Mutex
	reply   string
	err     error
	fn      func(ctx context.Context, messages []*schema.Message) (string, error)
	prompts [][]*schema.Message
}

func (f *fakeModel) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, messages)
	}
	return f.reply, f.err
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeModel) lastPrompt() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

func staticModerator(flagged bool, categories ...string) Moderator {
	return ModeratorFunc(func(context.Context, string) (*ModerationResult, error) {
		return &ModerationResult{Flagged: flagged, Categories: categories}, nil
	})
}
