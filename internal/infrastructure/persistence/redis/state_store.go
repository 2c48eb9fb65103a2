package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// SessionStateStore implements session.StateStore.
type SessionStateStore struct {
	cache *Cache
}

// NewSessionStateStore creates a new SessionStateStore.
func NewSessionStateStore(cache *Cache) *SessionStateStore {
	return &SessionStateStore{cache: cache}
}

// Get reads the cached state. A record that does not decode or fails
// validation is reported as ErrStateMalformed.
func (s *SessionStateStore) Get(ctx context.Context, sessionID string) (*session.SessionState, error) {
	var st session.SessionState
	if err := s.cache.Get(ctx, SessionKey(sessionID), &st); err != nil {
		return nil, mapCacheError(err, shared.ErrSessionNotFound)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}
	return &st, nil
}

// Put overwrites the cached state.
func (s *SessionStateStore) Put(ctx context.Context, sessionID string, state *session.SessionState, ttl time.Duration) error {
	if state == nil {
		return ErrCacheNilValue
	}
	if err := s.cache.Set(ctx, SessionKey(sessionID), state, ttl); err != nil {
		return fmt.Errorf("failed to cache session state: %w", err)
	}
	return nil
}

// TeachingStateStore implements session.TeachingStore.
type TeachingStateStore struct {
	cache *Cache
}

// NewTeachingStateStore creates a new TeachingStateStore.
func NewTeachingStateStore(cache *Cache) *TeachingStateStore {
	return &TeachingStateStore{cache: cache}
}

func (s *TeachingStateStore) Get(ctx context.Context, sessionID string) (*session.TeachingState, error) {
	var st session.TeachingState
	if err := s.cache.Get(ctx, TeachingKey(sessionID), &st); err != nil {
		return nil, mapCacheError(err, shared.ErrTeachingStateNotFound)
	}
	if !st.Phase.IsValid() {
		return nil, fmt.Errorf("%w: phase %q", shared.ErrStateMalformed, st.Phase)
	}
	return &st, nil
}

func (s *TeachingStateStore) Put(ctx context.Context, sessionID string, state *session.TeachingState, ttl time.Duration) error {
	if state == nil {
		return ErrCacheNilValue
	}
	if err := s.cache.Set(ctx, TeachingKey(sessionID), state, ttl); err != nil {
		return fmt.Errorf("failed to cache teaching state: %w", err)
	}
	return nil
}

func mapCacheError(err, notFound error) error {
	switch {
	case errors.Is(err, ErrCacheMiss):
		return notFound
	case errors.Is(err, ErrCacheSerialization):
		return fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	default:
		return fmt.Errorf("failed to read cache: %w", err)
	}
}
