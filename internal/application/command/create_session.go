package command

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE SESSION COMMAND
// Регистрирует сессию в долговременном хранилище: тема, класс и число
// концептов, с которых оркестратор стартует при холодной загрузке.
// ══════════════════════════════════════════════════════════════════════════════

// CreateSessionCommand describes a new session. An empty SessionID is
// generated.
type CreateSessionCommand struct {
	SessionID     string
	StudentID     string
	Topic         string
	GradeLevel    string
	TotalConcepts int
}

// Validate checks the command.
func (c *CreateSessionCommand) Validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.StudentID = strings.TrimSpace(c.StudentID)
	c.Topic = strings.TrimSpace(c.Topic)
	if c.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if c.Topic == "" {
		return shared.ErrMissingTopic
	}
	if c.TotalConcepts < 0 {
		return shared.NewDomainError("session", "Validate", shared.ErrValueOutOfRange, "totalConcepts cannot be negative")
	}
	return nil
}

// CreateSessionHandler handles CreateSessionCommand.
type CreateSessionHandler struct {
	storage SessionStorage
	clock   timeutil.Clock
	logger  *logger.Logger
}

// NewCreateSessionHandler creates a new handler.
func NewCreateSessionHandler(storage SessionStorage, clock timeutil.Clock, log *logger.Logger) *CreateSessionHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if storage.TTL <= 0 {
		storage.TTL = session.StateTTL
	}
	return &CreateSessionHandler{
		storage: storage,
		clock:   clock,
		logger:  log.With(logger.Component("sessions")),
	}
}

// Handle creates the durable record and primes the cache.
func (h *CreateSessionHandler) Handle(ctx context.Context, cmd CreateSessionCommand) (*session.SessionState, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.SessionID == "" {
		cmd.SessionID = uuid.NewString()
	}

	grade := cmd.GradeLevel
	if grade == "" {
		grade = h.storage.Defaults.GradeLevel
	}
	total := cmd.TotalConcepts
	if total == 0 {
		total = h.storage.Defaults.TotalConcepts
	}

	state, err := session.NewSessionState(session.NewSessionParams{
		SessionID:     cmd.SessionID,
		StudentID:     cmd.StudentID,
		Topic:         cmd.Topic,
		GradeLevel:    grade,
		TotalConcepts: total,
		Now:           h.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if err := h.storage.Durable.Create(ctx, state); err != nil {
		return nil, err
	}
	if err := h.storage.Cache.Put(ctx, state.SessionID, state, h.storage.TTL); err != nil {
		h.logger.Warn("failed to cache new session", logger.SessionID(state.SessionID), logger.Err(err))
	}

	h.logger.Info("session created",
		logger.SessionID(state.SessionID),
		logger.StudentID(state.StudentID),
		logger.String("topic", state.Topic),
	)
	return state, nil
}
