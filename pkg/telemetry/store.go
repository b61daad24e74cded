package telemetry

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// RunStore is the relational sink. All writes go through the Recorder, which
// decides whether a store failure is fatal (it never is) or merely logged.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Migrate creates the three conversation tables. Called once at startup by
// the process entry point, never at import time.
func (s *RunStore) Migrate() error {
	return s.db.AutoMigrate(
		&ConversationRun{},
		&ConversationMessage{},
		&ConversationAnalytics{},
	)
}

func (s *RunStore) CreateRun(ctx context.Context, run *ConversationRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// ActiveRun returns the active run for a session, or nil when there is none.
func (s *RunStore) ActiveRun(ctx context.Context, sessionID string) (*ConversationRun, error) {
	var run ConversationRun
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, RunActive).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) InsertMessage(ctx context.Context, m *ConversationMessage) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *RunStore) CompleteRun(ctx context.Context, run *ConversationRun) error {
	return s.db.WithContext(ctx).Model(&ConversationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":                RunCompleted,
			"completed_at":          run.CompletedAt,
			"total_messages":        run.TotalMessages,
			"total_tokens":          run.TotalTokens,
			"total_cost":            run.TotalCost,
			"average_response_time": run.AverageResponseTime,
			"satisfaction_score":    run.SatisfactionScore,
		}).Error
}

func (s *RunStore) MarkRunError(ctx context.Context, runID string, errMsg string) error {
	return s.db.WithContext(ctx).Model(&ConversationRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":        RunError,
			"error_message": errMsg,
		}).Error
}

func (s *RunStore) InsertAnalytics(ctx context.Context, a *ConversationAnalytics) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// RunMessages returns a run's messages in insertion order.
func (s *RunStore) RunMessages(ctx context.Context, runID string) ([]ConversationMessage, error) {
	var msgs []ConversationMessage
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
