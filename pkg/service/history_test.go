package service

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/chatengine/pkg/db"
)

func wordsMessage(role string, n int) db.Message {
	return db.Message{Role: role, Content: strings.TrimSpace(strings.Repeat("w ", n))}
}

func TestWindowHistory_Empty(t *testing.T) {
	w := WindowHistory(nil, 100, wordCounter)
	assert.Empty(t, w.Messages)
	assert.Zero(t, w.TokenCount)
	assert.Zero(t, w.Dropped)
}

func TestWindowHistory_PinnedFirstNotCounted(t *testing.T) {
	history := []db.Message{wordsMessage(db.RoleSystem, 500)}
	w := WindowHistory(history, 10, wordCounter)
	require.Len(t, w.Messages, 1)
	assert.Equal(t, schema.System, w.Messages[0].Role)
	assert.Zero(t, w.TokenCount)
}

func TestWindowHistory_OvershootBoundedByOneMessage(t *testing.T) {
	history := []db.Message{
		wordsMessage(db.RoleSystem, 3),
		wordsMessage(db.RoleUser, 4),
		wordsMessage(db.RoleAssistant, 4),
		wordsMessage(db.RoleUser, 4),
		wordsMessage(db.RoleAssistant, 4),
	}

	w := WindowHistory(history, 10, wordCounter)

	// 0 < 10, 4 < 10, 8 < 10 -> three messages included, 12 tokens.
	require.Len(t, w.Messages, 4)
	assert.Equal(t, 12, w.TokenCount)
	assert.Equal(t, 1, w.Dropped)
	assert.LessOrEqual(t, w.TokenCount, 10+4)
}

func TestWindowHistory_OldestFirstFill(t *testing.T) {
	history := []db.Message{
		{Role: db.RoleSystem, Content: "prompt"},
		{Role: db.RoleUser, Content: "first"},
		{Role: db.RoleAssistant, Content: "second"},
		{Role: db.RoleUser, Content: "third"},
	}

	w := WindowHistory(history, 2, wordCounter)
	require.Len(t, w.Messages, 3)
	assert.Equal(t, "prompt", w.Messages[0].Content)
	assert.Equal(t, "first", w.Messages[1].Content)
	assert.Equal(t, "second", w.Messages[2].Content)
	assert.Equal(t, schema.Assistant, w.Messages[2].Role)
	assert.Equal(t, 1, w.Dropped)
}

func TestWindowHistory_ZeroBudgetKeepsOnlyPinned(t *testing.T) {
	history := []db.Message{wordsMessage(db.RoleSystem, 1), wordsMessage(db.RoleUser, 1)}
	w := WindowHistory(history, 0, wordCounter)
	assert.Len(t, w.Messages, 1)
	assert.Equal(t, 1, w.Dropped)
}

func TestWindowHistory_Idempotent(t *testing.T) {
	history := []db.Message{
		wordsMessage(db.RoleSystem, 2),
		wordsMessage(db.RoleUser, 7),
		wordsMessage(db.RoleAssistant, 9),
		wordsMessage(db.RoleUser, 3),
	}
	first := WindowHistory(history, 12, wordCounter)
	second := WindowHistory(history, 12, wordCounter)
	assert.Equal(t, first, second)
}
