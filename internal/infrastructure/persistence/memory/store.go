// Package memory provides process-local implementations of the session
// stores and repositories. They back tests and REDIS_DISABLED mode and
// follow the same contracts as the Redis and SQL implementations.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// kv is a TTL map of JSON documents. Values are stored encoded so callers
// never share memory with the store, as with a real cache.
type kv struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func newKV(now func() time.Time) *kv {
	if now == nil {
		now = time.Now
	}
	return &kv{data: make(map[string]entry), now: now}
}

func (s *kv) get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (s *kv) put(key string, data []byte, ttl time.Duration) {
	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
}

// StateStore implements session.StateStore.
type StateStore struct {
	kv *kv
}

// NewStateStore creates an empty store. now may be nil.
func NewStateStore(now func() time.Time) *StateStore {
	return &StateStore{kv: newKV(now)}
}

func (s *StateStore) Get(_ context.Context, sessionID string) (*session.SessionState, error) {
	raw, ok := s.kv.get(sessionID)
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	var st session.SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}
	return &st, nil
}

func (s *StateStore) Put(_ context.Context, sessionID string, state *session.SessionState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	s.kv.put(sessionID, raw, ttl)
	return nil
}

// PutRaw stores bytes as-is. Used to simulate corrupted cache entries.
func (s *StateStore) PutRaw(sessionID string, raw []byte, ttl time.Duration) {
	s.kv.put(sessionID, raw, ttl)
}

// TeachingStore implements session.TeachingStore.
type TeachingStore struct {
	kv *kv
}

// NewTeachingStore creates an empty store. now may be nil.
func NewTeachingStore(now func() time.Time) *TeachingStore {
	return &TeachingStore{kv: newKV(now)}
}

func (s *TeachingStore) Get(_ context.Context, sessionID string) (*session.TeachingState, error) {
	raw, ok := s.kv.get(sessionID)
	if !ok {
		return nil, shared.ErrTeachingStateNotFound
	}
	var st session.TeachingState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}
	return &st, nil
}

func (s *TeachingStore) Put(_ context.Context, sessionID string, state *session.TeachingState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode teaching state: %w", err)
	}
	s.kv.put(sessionID, raw, ttl)
	return nil
}
