package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smile-ai/backend/conversation/models"
	"smile-ai/backend/conversation/repository"
	apperrors "smile-ai/backend/pkg/errors"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrInvalidRole  = errors.New("message role is invalid")
	ErrMissingUser  = errors.New("user id is required")
)

// ConversationStore is the append-only per-user log of turns
type ConversationStore struct {
	messages repository.MessageRepository
}

func NewConversationStore(messages repository.MessageRepository) *ConversationStore {
	return &ConversationStore{messages: messages}
}

// Append persists one turn for userID
func (s *ConversationStore) Append(ctx context.Context, userID string, role models.Role, content string) error {
	switch {
	case userID == "":
		return apperrors.NewPersistenceError("cannot append message", ErrMissingUser)
	case !role.Valid():
		return apperrors.NewPersistenceError("cannot append message", fmt.Errorf("%w: %q", ErrInvalidRole, role))
	case strings.TrimSpace(content) == "":
		return apperrors.NewPersistenceError("cannot append message", ErrEmptyContent)
	}

	msg := &models.Message{UserID: userID, Role: role, Content: content}
	if err := s.messages.Create(ctx, msg); err != nil {
		return apperrors.NewPersistenceError("failed to append message", err)
	}
	return nil
}

// Recent returns at most limit turns for userID, oldest first
func (s *ConversationStore) Recent(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		return nil, apperrors.NewMalformedInputError("history limit must be positive")
	}

	newestFirst, err := s.messages.LatestByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load history", err)
	}
	if len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
	}

	// Storage hands back newest first; callers always get chronological order.
	turns := make([]models.Turn, len(newestFirst))
	for i, msg := range newestFirst {
		turns[len(newestFirst)-1-i] = models.Turn{Role: msg.Role, Content: msg.Content}
	}
	return turns, nil
}
