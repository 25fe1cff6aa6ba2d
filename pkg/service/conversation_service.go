package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/event"
	"github.com/choraleia/chatengine/pkg/models"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/utils"
)

// ConversationService manages the conversation lifecycle around turns:
// create or resume, roster updates, end, and secret-addressed sends.
type ConversationService struct {
	repo          store.Repository
	personalities *PersonalityService
	turns         *TurnService
	emitter       *event.Emitter
	logger        *slog.Logger
}

func NewConversationService(repo store.Repository, personalities *PersonalityService, turns *TurnService, emitter *event.Emitter) *ConversationService {
	return &ConversationService{
		repo:          repo,
		personalities: personalities,
		turns:         turns,
		emitter:       emitter,
		logger:        utils.GetLogger(),
	}
}

// Create starts a conversation. When the request carries a persistence token
// that already exists, that conversation is resumed with the new roster and
// its personality is left unchanged.
func (s *ConversationService) Create(ctx context.Context, req models.CreateConversationRequest) (*models.CreateConversationResponse, error) {
	users := toUsers(req.Users)

	if req.PersistenceToken != "" {
		resumed, err := s.resume(ctx, req.PersistenceToken, users)
		if err == nil {
			return resumed, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	personality, err := s.personalities.Resolve(ctx, req.Personality)
	if err != nil {
		return nil, err
	}

	conv := &db.Conversation{
		Secret:        uuid.NewString(),
		PersonalityID: personality.ID,
	}
	if req.PersistenceToken != "" {
		token := req.PersistenceToken
		conv.PersistenceToken = &token
	}

	created, err := s.repo.CreateConversation(ctx, conv, users, personality.Prompt)
	if err != nil {
		if req.PersistenceToken != "" {
			// Lost a race with a concurrent create for the same token.
			if resumed, rerr := s.resume(ctx, req.PersistenceToken, users); rerr == nil {
				return resumed, nil
			}
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", created.ID,
		"personality_id", personality.ID,
		"users", len(users))
	s.emitter.Emit(event.ConversationCreatedEvent{
		ConversationID: created.ID,
		PersonalityID:  personality.ID,
	})

	return &models.CreateConversationResponse{ID: created.ID, Secret: created.Secret}, nil
}

func (s *ConversationService) resume(ctx context.Context, token string, users []db.User) (*models.CreateConversationResponse, error) {
	conv, err := s.repo.FindConversationByPersistenceToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetConversationMembership(ctx, conv.ID, users); err != nil {
		return nil, fmt.Errorf("refresh membership: %w", err)
	}

	s.logger.Info("conversation resumed", "conversation_id", conv.ID, "users", len(users))
	s.emitter.Emit(event.ConversationCreatedEvent{
		ConversationID: conv.ID,
		PersonalityID:  conv.PersonalityID,
		Resumed:        true,
	})
	return &models.CreateConversationResponse{ID: conv.ID, Secret: conv.Secret}, nil
}

// GetBySecret looks up a conversation by its access secret.
func (s *ConversationService) GetBySecret(ctx context.Context, secret string) (*db.Conversation, error) {
	if secret == "" {
		return nil, ErrConversationNotFound
	}
	conv, err := s.repo.FindConversationBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

// UpdateUsers replaces the roster. A nil slice leaves it untouched; an empty
// one clears it.
func (s *ConversationService) UpdateUsers(ctx context.Context, secret string, participants []models.Participant) error {
	conv, err := s.GetBySecret(ctx, secret)
	if err != nil {
		return err
	}
	if participants == nil {
		return nil
	}

	users := toUsers(participants)
	if err := s.repo.SetConversationMembership(ctx, conv.ID, users); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("update membership: %w", err)
	}

	s.emitter.Emit(event.ConversationUpdatedEvent{ConversationID: conv.ID, Users: len(users)})
	return nil
}

// End deletes the conversation with its messages and membership.
func (s *ConversationService) End(ctx context.Context, secret string) error {
	conv, err := s.GetBySecret(ctx, secret)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteConversation(ctx, conv.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("delete conversation: %w", err)
	}

	s.logger.Info("conversation ended", "conversation_id", conv.ID)
	s.emitter.Emit(event.ConversationEndedEvent{ConversationID: conv.ID})
	return nil
}

// Send resolves the secret and submits one turn.
func (s *ConversationService) Send(ctx context.Context, req models.SendMessageRequest) (*models.TurnResult, error) {
	conv, err := s.GetBySecret(ctx, req.Secret)
	if err != nil {
		return nil, err
	}
	return s.turns.SubmitTurn(ctx, conv.ID, req.Message, req.Context, req.PlayerID)
}

func toUsers(participants []models.Participant) []db.User {
	users := make([]db.User, len(participants))
	for i, p := range participants {
		users[i] = db.User{ID: p.ID, Name: p.Name}
	}
	return users
}
