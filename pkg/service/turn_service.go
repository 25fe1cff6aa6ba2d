package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/event"
	"github.com/choraleia/chatengine/pkg/models"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/tokenizer"
	"github.com/choraleia/chatengine/pkg/utils"
)

const (
	DefaultHistoryBudget = 10000
	DefaultTurnTimeout   = 60 * time.Second

	releaseTimeout = 10 * time.Second
)

// TurnServiceOptions wires the collaborators of a TurnService.
type TurnServiceOptions struct {
	Repo    store.Repository
	Lock    TurnLock // defaults to StoreTurnLock over Repo with a 2x Timeout lease
	Model   ModelClient
	Gate    *ModerationGate // defaults to a gate over NoopModerator
	Counter tokenizer.Counter
	Emitter *event.Emitter // optional

	HistoryBudget int
	Timeout       time.Duration
}

// TurnService runs the per-message pipeline: lock, window history, call the
// model, moderate, persist, unlock.
type TurnService struct {
	repo    store.Repository
	lock    TurnLock
	model   ModelClient
	gate    *ModerationGate
	counter tokenizer.Counter
	emitter *event.Emitter
	budget  int
	timeout time.Duration
	logger  *slog.Logger
}

func NewTurnService(opts TurnServiceOptions) *TurnService {
	s := &TurnService{
		repo:    opts.Repo,
		lock:    opts.Lock,
		model:   opts.Model,
		gate:    opts.Gate,
		counter: opts.Counter,
		emitter: opts.Emitter,
		budget:  opts.HistoryBudget,
		timeout: opts.Timeout,
		logger:  utils.GetLogger(),
	}
	if s.gate == nil {
		s.gate = NewModerationGate(NoopModerator{})
	}
	if s.budget <= 0 {
		s.budget = DefaultHistoryBudget
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTurnTimeout
	}
	if s.lock == nil {
		s.lock = NewStoreTurnLock(opts.Repo, 2*s.timeout)
	}
	return s
}

// SubmitTurn processes one inbound message. It fails fast with
// ErrConversationBusy when another turn is in flight for the conversation.
// A flagged exchange is persisted unredacted but returned with empty content.
func (s *TurnService) SubmitTurn(ctx context.Context, conversationID uint, text string, entries []models.ContextEntry, senderID string) (result *models.TurnResult, err error) {
	token, acquired, err := s.lock.TryAcquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrConversationBusy
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := s.lock.Release(releaseCtx, conversationID, token); rerr != nil {
			s.logger.Error("failed to release turn lock", "conversation_id", conversationID, "error", rerr)
		}
	}()

	defer func() {
		if err != nil {
			s.logger.Warn("turn failed", "conversation_id", conversationID, "sender_id", senderID, "error", err)
			s.emitter.Emit(event.TurnFailedEvent{
				ConversationID: conversationID,
				SenderID:       senderID,
				Reason:         failureReason(err),
			})
		}
	}()

	return s.runTurn(ctx, conversationID, text, entries, senderID)
}

func (s *TurnService) runTurn(ctx context.Context, conversationID uint, text string, entries []models.ContextEntry, senderID string) (*models.TurnResult, error) {
	record, err := s.repo.LoadConversationRecord(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	window := WindowHistory(record.Messages, s.budget, s.counter)
	totalTokens := window.TokenCount +
		s.counter.Count(record.Personality.Prompt) +
		s.counter.Count(text)

	contextText, err := AssembleContext(entries, record.Users, senderID)
	if err != nil {
		return nil, err
	}

	prompt := make([]*schema.Message, 0, len(window.Messages)+2)
	prompt = append(prompt, window.Messages...)
	prompt = append(prompt, schema.SystemMessage(contextText), schema.UserMessage(text))

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.model.Complete(callCtx, prompt)
	if err != nil {
		if !errors.Is(err, ErrModelFailure) {
			err = fmt.Errorf("%w: %w", ErrModelFailure, err)
		}
		return nil, err
	}

	verdict, err := s.gate.Check(callCtx, conversationID, senderID, text, reply)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("turn completed",
		"conversation_id", conversationID,
		"sender_id", senderID,
		"sender_name", senderName(record.Users, senderID),
		"total_tokens", totalTokens,
		"window_messages", len(window.Messages),
		"dropped_messages", window.Dropped,
		"flagged", verdict.Flagged)

	turn := []db.Message{
		db.NewSystemMessage(contextText),
		db.NewUserMessage(text, senderID),
		db.NewAssistantMessage(reply),
	}
	if _, err := s.repo.AppendTurn(ctx, conversationID, turn, contextRows(entries)); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	if verdict.Flagged {
		s.emitter.Emit(event.TurnFlaggedEvent{
			ConversationID: conversationID,
			SenderID:       senderID,
			Categories:     verdict.Categories,
		})
		return &models.TurnResult{Flagged: true, Content: ""}, nil
	}

	s.emitter.Emit(event.TurnCompletedEvent{
		ConversationID: conversationID,
		SenderID:       senderID,
		Tokens:         totalTokens,
	})
	return &models.TurnResult{Flagged: false, Content: reply}, nil
}

func contextRows(entries []models.ContextEntry) []db.MessageContext {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]db.MessageContext, len(entries))
	for i, e := range entries {
		rows[i] = db.MessageContext{Key: e.Key, Value: e.Value}
	}
	return rows
}

func senderName(users []db.User, senderID string) string {
	for _, u := range users {
		if u.ID == senderID {
			return u.Name
		}
	}
	return ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSenderNotFound):
		return "sender"
	case errors.Is(err, ErrConversationNotFound):
		return "conversation"
	case errors.Is(err, ErrModelFailure):
		return "model"
	case errors.Is(err, ErrModerationFailure):
		return "moderation"
	default:
		return "storage"
	}
}
