package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD FEEDBACK COMMAND
// Сохраняет результат анализа обратной связи. progression_check читает
// самую свежую запись.
// ══════════════════════════════════════════════════════════════════════════════

// RecordFeedbackCommand contains one feedback analysis result.
type RecordFeedbackCommand struct {
	SessionID string
	StudentID string
	Concept   string
	Score     int

	// ProgressionReady defaults to Score >= pass score when nil.
	ProgressionReady *bool

	Summary   string
	RequestID string
}

// Validate checks the command.
func (c *RecordFeedbackCommand) Validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.StudentID = strings.TrimSpace(c.StudentID)
	if c.SessionID == "" {
		return shared.ErrMissingSessionID
	}
	if c.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if c.Score < 0 || c.Score > 100 {
		return shared.ErrInvalidScore
	}
	return nil
}

// RecordFeedbackHandler handles RecordFeedbackCommand.
type RecordFeedbackHandler struct {
	repo      session.FeedbackRepository
	events    eventEmitter
	clock     timeutil.Clock
	logger    *logger.Logger
	passScore int
}

// NewRecordFeedbackHandler creates a new handler.
func NewRecordFeedbackHandler(
	repo session.FeedbackRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	passScore int,
) *RecordFeedbackHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if passScore <= 0 {
		passScore = session.DefaultPassScore
	}
	log = log.With(logger.Component("feedback"))
	return &RecordFeedbackHandler{
		repo:      repo,
		events:    eventEmitter{publisher: publisher, logger: log},
		clock:     clock,
		logger:    log,
		passScore: passScore,
	}
}

// Handle stores the record and returns it with its id set.
func (h *RecordFeedbackHandler) Handle(ctx context.Context, cmd RecordFeedbackCommand) (*session.FeedbackRecord, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	ready := cmd.Score >= h.passScore
	if cmd.ProgressionReady != nil {
		ready = *cmd.ProgressionReady
	}

	rec := &session.FeedbackRecord{
		SessionID:        cmd.SessionID,
		StudentID:        cmd.StudentID,
		Concept:          strings.TrimSpace(cmd.Concept),
		Score:            cmd.Score,
		ProgressionReady: ready,
		Summary:          cmd.Summary,
		CreatedAt:        h.clock.Now(),
	}
	if err := h.repo.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("record_feedback: failed to record: %w", err)
	}

	h.logger.Info("feedback recorded",
		logger.SessionID(rec.SessionID),
		logger.Int("score", rec.Score),
		logger.Bool("progression_ready", rec.ProgressionReady),
	)
	h.events.emit(rec.SessionID, correlate(shared.NewFeedbackRecordedEvent(
		rec.SessionID, rec.StudentID, rec.Score, rec.ProgressionReady), cmd.RequestID))

	return rec, nil
}
