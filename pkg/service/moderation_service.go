package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/choraleia/chatengine/pkg/utils"
)

// ModerationResult is a classifier verdict.
type ModerationResult struct {
	Flagged    bool
	Categories []string // flagged category names, sorted
}

// Moderator classifies a piece of text.
type Moderator interface {
	Classify(ctx context.Context, text string) (*ModerationResult, error)
}

// ModeratorFunc adapts a plain function to Moderator.
type ModeratorFunc func(ctx context.Context, text string) (*ModerationResult, error)

func (f ModeratorFunc) Classify(ctx context.Context, text string) (*ModerationResult, error) {
	return f(ctx, text)
}

// NoopModerator never flags. Used when moderation is disabled or the
// provider has no moderation endpoint.
type NoopModerator struct{}

func (NoopModerator) Classify(context.Context, string) (*ModerationResult, error) {
	return &ModerationResult{}, nil
}

// OpenAIModerator calls the OpenAI moderation endpoint.
type OpenAIModerator struct {
	client openai.Client
	model  string
}

// NewOpenAIModerator builds a moderator. Retries are disabled; a failed call
// fails the turn.
func NewOpenAIModerator(apiKey, baseURL, model string) *OpenAIModerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIModerator{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (m *OpenAIModerator) Classify(ctx context.Context, text string) (*ModerationResult, error) {
	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(m.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errors.New("moderation returned no results")
	}

	first := resp.Results[0]
	result := &ModerationResult{Flagged: first.Flagged}
	if first.Flagged {
		result.Categories = flaggedCategories(first.Categories.RawJSON())
	}
	return result, nil
}

func flaggedCategories(raw string) []string {
	var categories map[string]bool
	if err := json.Unmarshal([]byte(raw), &categories); err != nil {
		return nil
	}
	var out []string
	for name, flagged := range categories {
		if flagged {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ModerationGate runs one classifier call over a whole exchange and writes
// an audit record when it is flagged.
type ModerationGate struct {
	moderator Moderator
	logger    *slog.Logger
}

func NewModerationGate(moderator Moderator) *ModerationGate {
	if moderator == nil {
		moderator = NoopModerator{}
	}
	return &ModerationGate{
		moderator: moderator,
		logger:    utils.GetLogger(),
	}
}

// Check classifies userText and reply together; a flag on either flags both.
func (g *ModerationGate) Check(ctx context.Context, conversationID uint, senderID, userText, reply string) (*ModerationResult, error) {
	result, err := g.moderator.Classify(ctx, userText+" "+reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModerationFailure, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty classifier result", ErrModerationFailure)
	}

	if result.Flagged {
		g.logger.Warn("message flagged by moderation",
			"conversation_id", conversationID,
			"sender_id", senderID,
			"categories", result.Categories,
			"user_text", userText,
			"reply", reply)
	}
	return result, nil
}
