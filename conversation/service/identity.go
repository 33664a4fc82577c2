package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"smile-ai/backend/conversation/models"
	"smile-ai/backend/conversation/repository"
	apperrors "smile-ai/backend/pkg/errors"
	"smile-ai/backend/pkg/logger"
)

// maxResolveAttempts bounds the lookup/create loop when first contacts race
const maxResolveAttempts = 3

// IdentityResolver maps a channel address to a stable internal user id,
// creating the user on first contact
type IdentityResolver struct {
	users    repository.UserRepository
	cache    IdentityCache
	cacheTTL time.Duration
	log      *logger.Logger
}

// ResolverOption customises an IdentityResolver
type ResolverOption func(*IdentityResolver)

// WithIdentityCache puts a read-through cache in front of the user table
func WithIdentityCache(cache IdentityCache, ttl time.Duration) ResolverOption {
	return func(r *IdentityResolver) {
		r.cache = cache
		r.cacheTTL = ttl
	}
}

func NewIdentityResolver(users repository.UserRepository, log *logger.Logger, opts ...ResolverOption) *IdentityResolver {
	r := &IdentityResolver{users: users, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user id for (channel, externalID). Concurrent first
// contacts for the same pair all receive the id of the single stored row.
func (r *IdentityResolver) Resolve(ctx context.Context, channel, externalID string) (string, error) {
	if strings.TrimSpace(channel) == "" || strings.TrimSpace(externalID) == "" {
		return "", apperrors.NewMalformedInputError("channel and external user id are required")
	}

	key := identityCacheKey(channel, externalID)
	if id, ok := r.cached(ctx, key); ok {
		return id, nil
	}

	id, err := r.lookupOrCreate(ctx, channel, externalID)
	if err != nil {
		return "", err
	}

	r.remember(ctx, key, id)
	return id, nil
}

func (r *IdentityResolver) lookupOrCreate(ctx context.Context, channel, externalID string) (string, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		user, err := r.users.GetByExternalID(ctx, channel, externalID)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", apperrors.NewPersistenceError("failed to look up user", err)
		}

		user = &models.User{Channel: channel, ExternalID: externalID}
		err = r.users.Create(ctx, user)
		if err == nil {
			r.log.WithContext(ctx).Info("Created user on first contact",
				"user_id", user.ID,
				"channel", channel,
			)
			return user.ID, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return "", apperrors.NewPersistenceError("failed to create user", err)
		}

		// Another request inserted the same pair first; its row wins.
		r.log.WithContext(ctx).Debug("Concurrent first contact, retrying lookup",
			"channel", channel,
			"attempt", attempt,
		)
	}

	return "", apperrors.NewPersistenceError("user identity did not settle",
		errors.New("unique insert kept conflicting without a visible row"))
}

func (r *IdentityResolver) cached(ctx context.Context, key string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	id, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.WithContext(ctx).Warn("Identity cache read failed", "error", err.Error())
		return "", false
	}
	return id, ok && id != ""
}

func (r *IdentityResolver) remember(ctx context.Context, key, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, id, r.cacheTTL); err != nil {
		r.log.WithContext(ctx).Warn("Identity cache write failed", "error", err.Error())
	}
}

func identityCacheKey(channel, externalID string) string {
	return "identity:" + channel + ":" + externalID
}
