package service

import (
	"errors"

	"github.com/choraleia/chatengine/pkg/store"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationBusy     = errors.New("conversation is busy")
	ErrModelFailure         = errors.New("model failure")
	ErrModerationFailure    = errors.New("moderation failure")
	ErrInvalidPersonality   = errors.New("invalid personality")

	// ErrSenderNotFound is a not-found error: errors.Is(err, store.ErrNotFound) holds.
	ErrSenderNotFound = &notFoundError{msg: "sender is not a participant of the conversation"}
)

type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Unwrap() error { return store.ErrNotFound }
