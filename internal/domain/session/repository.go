package session

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACES
// Горячие копии состояния с TTL. Реализации: Redis и in-memory.
// ══════════════════════════════════════════════════════════════════════════════

// StateStore хранит SessionState в кэше.
type StateStore interface {
	// Get возвращает состояние сессии.
	// Возвращает ErrSessionNotFound, если записи нет, и ErrStateMalformed,
	// если запись не удалось декодировать.
	Get(ctx context.Context, sessionID string) (*SessionState, error)

	// Put перезаписывает состояние (last-write-wins).
	Put(ctx context.Context, sessionID string, state *SessionState, ttl time.Duration) error
}

// TeachingStore хранит TeachingState в кэше.
type TeachingStore interface {
	// Get возвращает ErrTeachingStateNotFound, если записи нет.
	Get(ctx context.Context, sessionID string) (*TeachingState, error)
	Put(ctx context.Context, sessionID string, state *TeachingState, ttl time.Duration) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Долговременное хранилище. Источник истины при холодном старте.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции с долговременной записью сессии.
type Repository interface {
	// Create регистрирует новую сессию (тема, класс, число концептов).
	// Возвращает ошибку с ErrAlreadyExists, если сессия уже есть.
	Create(ctx context.Context, state *SessionState) error

	// Load возвращает последнее сохранённое состояние.
	// Возвращает ErrSessionNotFound, если сессии нет.
	Load(ctx context.Context, sessionID string) (*SessionState, error)

	// Save записывает состояние без проверки версии.
	Save(ctx context.Context, state *SessionState) error

	// SaveVersioned записывает состояние, только если в хранилище лежит
	// версия state.Version-1. Иначе возвращает ErrStaleSessionState.
	SaveVersioned(ctx context.Context, state *SessionState) error

	// MarkFailed помечает сессию статусом "error".
	MarkFailed(ctx context.Context, sessionID string, at time.Time) error

	// MarkCompleted записывает current_state = "completed" и completed_at.
	MarkCompleted(ctx context.Context, sessionID string, at time.Time) error

	// MarkActive снимает статус "error" после внешнего сброса.
	MarkActive(ctx context.Context, sessionID string, at time.Time) error
}

// TeachingRepository хранит долговременную копию TeachingState.
type TeachingRepository interface {
	LoadTeaching(ctx context.Context, sessionID string) (*TeachingState, error)
	SaveTeaching(ctx context.Context, state *TeachingState) error
}

// FeedbackRepository хранит результаты анализа обратной связи.
type FeedbackRepository interface {
	// Record сохраняет запись обратной связи.
	Record(ctx context.Context, rec *FeedbackRecord) error

	// Latest возвращает самую свежую запись для студента и сессии.
	// Возвращает ErrFeedbackNotFound, если записей нет.
	Latest(ctx context.Context, sessionID, studentID string) (*FeedbackRecord, error)
}
