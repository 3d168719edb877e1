package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"parking-lot-backend/internal/model"
)

// ExpireStalePreorders cancels every preorder whose estimated start
// lies in the current day and whose grace period has elapsed without a
// check-in. Spot occupancy is left untouched: a preorder never sets
// the occupied flag, and a walk-in may hold the spot already. The
// whole pass is one transaction. Each row is guarded by a conditional
// update, so a session already cancelled by a concurrent sweep or an
// explicit cancel is skipped rather than treated as an error; only
// sessions this call actually transitioned are returned.
func (s *gormStore) ExpireStalePreorders(ctx context.Context, now time.Time, grace time.Duration) ([]model.Session, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := now.Add(-grace)

	var expired []model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []model.Session
		err := tx.
			Where("status = ?", model.StatusPreorder).
			Where("est_start >= ? AND est_start <= ?", dayStart, cutoff).
			Find(&candidates).Error
		if err != nil {
			return fmt.Errorf("failed to fetch stale preorders: %w", err)
		}

		for i := range candidates {
			cand := &candidates[i]
			res := tx.Model(&model.Session{}).
				Where("code = ? AND status = ?", cand.Code, model.StatusPreorder).
				Update("status", model.StatusCancelled)
			if res.Error != nil {
				return fmt.Errorf("failed to expire preorder %s: %w", cand.Code, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			cand.Status = model.StatusCancelled
			expired = append(expired, *cand)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// FlagLateSessions sets the late flag on active sessions that have
// passed their estimated end without exiting. The late=false guard
// makes each flag exactly-once in effect: a second sweep updates zero
// rows and so returns nothing to notify about.
func (s *gormStore) FlagLateSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	var flagged []model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []model.Session
		err := tx.
			Where("status = ? AND actual_end IS NULL AND late = ?", model.StatusActive, false).
			Where("est_end <= ?", now).
			Find(&candidates).Error
		if err != nil {
			return fmt.Errorf("failed to fetch overdue sessions: %w", err)
		}

		for i := range candidates {
			cand := &candidates[i]
			res := tx.Model(&model.Session{}).
				Where("code = ? AND status = ? AND late = ?", cand.Code, model.StatusActive, false).
				Update("late", true)
			if res.Error != nil {
				return fmt.Errorf("failed to flag session %s late: %w", cand.Code, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			cand.Late = true
			flagged = append(flagged, *cand)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flagged, nil
}
