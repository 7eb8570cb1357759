package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
)

// ErrInvalidAction is returned for moderation actions outside the known set.
var ErrInvalidAction = errors.New("invalid moderation action")

// DefaultHistorySize bounds History when no limit is given.
const DefaultHistorySize = 20

// ModerationStore is the persistence the moderation journal needs.
type ModerationStore interface {
	Record(ctx context.Context, rec model.ModerationRecord) (*model.ModerationRecord, error)
	ListByTarget(ctx context.Context, guildID, targetID int64, limit int) ([]*model.ModerationRecord, error)
	AddWarning(ctx context.Context, guildID, userID, moderatorID int64, reason string) (*model.Warning, error)
	ClearWarning(ctx context.Context, guildID, warningID int64) (*model.Warning, error)
	ListActiveWarnings(ctx context.Context, guildID, userID int64) ([]*model.Warning, error)
}

// ModerationService keeps the moderation journal and the active warning set.
// Journal appends are not idempotent and are never retried.
type ModerationService struct {
	store  ModerationStore
	policy db.Policy
}

// NewModerationService creates a new ModerationService instance.
func NewModerationService(store ModerationStore, policy db.Policy) *ModerationService {
	return &ModerationService{store: store, policy: policy}
}

// Record appends an action to the journal and returns the stored entry.
func (s *ModerationService) Record(ctx context.Context, guildID, moderatorID, targetID int64, action model.ModAction, reason string, duration *time.Duration) (*model.ModerationRecord, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	var rec *model.ModerationRecord
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Record(ctx, model.ModerationRecord{
			GuildID:     guildID,
			ModeratorID: moderatorID,
			TargetID:    targetID,
			Action:      action,
			Reason:      reason,
			Duration:    duration,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record moderation action: %w", err)
	}
	return rec, nil
}

// Warn issues a warning and journals it as a warn action.
func (s *ModerationService) Warn(ctx context.Context, guildID, moderatorID, targetID int64, reason string) (*model.Warning, *model.ModerationRecord, error) {
	var w *model.Warning
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.store.AddWarning(ctx, guildID, targetID, moderatorID, reason)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add warning: %w", err)
	}

	rec, err := s.Record(ctx, guildID, moderatorID, targetID, model.ModActionWarn, reason, nil)
	if err != nil {
		return w, nil, err
	}
	return w, rec, nil
}

// ClearWarning deactivates a warning for good.
// Returns repository.ErrNotFound if it is unknown or already cleared.
func (s *ModerationService) ClearWarning(ctx context.Context, guildID, warningID int64) (*model.Warning, error) {
	var w *model.Warning
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.store.ClearWarning(ctx, guildID, warningID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear warning: %w", err)
	}
	return w, nil
}

// ListActive returns a member's active warnings, oldest first.
func (s *ModerationService) ListActive(ctx context.Context, guildID, userID int64) ([]*model.Warning, error) {
	var warnings []*model.Warning
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		warnings, err = s.store.ListActiveWarnings(ctx, guildID, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	return warnings, nil
}

// History returns the newest journal entries about a member.
func (s *ModerationService) History(ctx context.Context, guildID, targetID int64, limit int) ([]*model.ModerationRecord, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}

	var records []*model.ModerationRecord
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.store.ListByTarget(ctx, guildID, targetID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load moderation history: %w", err)
	}
	return records, nil
}
