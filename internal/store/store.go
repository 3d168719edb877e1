package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"parking-lot-backend/internal/model"
)

var (
	// ErrNotFound: no session/subscriber with that identifier.
	ErrNotFound = errors.New("store: not found")
	// ErrWrongStatus: the session exists but is not in the status the
	// operation requires (already cancelled, already finished, ...).
	ErrWrongStatus = errors.New("store: session not in expected status")
	// ErrSpotConflict: a concurrent allocation won the spot or window.
	ErrSpotConflict = errors.New("store: spot allocation conflict")
	// ErrAlreadyExtended: the one-time extension was already used.
	ErrAlreadyExtended = errors.New("store: session already extended")
	// ErrActiveExists: the subscriber already has an active session; a
	// concurrent entry won the partial unique index.
	ErrActiveExists = errors.New("store: subscriber already has an active session")
)

// Store defines the persistence contract the lifecycle manager and the
// consistency monitor operate against. Every mutating method is a
// single transaction; status-guarded conditional updates make each
// transition exactly-once in effect.
type Store interface {
	Spots(ctx context.Context) ([]model.Spot, error)
	SessionByCode(ctx context.Context, code string) (*model.Session, error)
	SubscriberByID(ctx context.Context, id int64) (*model.Subscriber, error)
	SubscriberSessions(ctx context.Context, subscriberID int64) ([]model.Session, error)
	OverlappingSessions(ctx context.Context, from, to time.Time) ([]model.Session, error)
	HasActiveSession(ctx context.Context, subscriberID int64) (bool, error)

	CreatePreorder(ctx context.Context, s *model.Session) error
	StartWalkIn(ctx context.Context, s *model.Session) error
	ActivatePreorder(ctx context.Context, code string, now time.Time) (*model.Session, error)
	FinishSession(ctx context.Context, code string, now time.Time, late bool) (*model.Session, error)
	CancelSession(ctx context.Context, code string) (*model.Session, error)
	ExtendSession(ctx context.Context, code string, newEnd time.Time) (*model.Session, error)

	ExpireStalePreorders(ctx context.Context, now time.Time, grace time.Duration) ([]model.Session, error)
	FlagLateSessions(ctx context.Context, now time.Time) ([]model.Session, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// New creates a GORM-backed store bound to the given handle. Callers
// construct one per acquired pool handle.
func New(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Spots(ctx context.Context) ([]model.Spot, error) {
	var spots []model.Spot
	if err := s.db.WithContext(ctx).Order("id").Find(&spots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch spots: %w", err)
	}
	return spots, nil
}

func (s *gormStore) SessionByCode(ctx context.Context, code string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).First(&sess, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session %s: %w", code, err)
	}
	return &sess, nil
}

func (s *gormStore) SubscriberByID(ctx context.Context, id int64) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := s.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriber %d: %w", id, err)
	}
	return &sub, nil
}

func (s *gormStore) SubscriberSessions(ctx context.Context, subscriberID int64) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("placed_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions for subscriber %d: %w", subscriberID, err)
	}
	return sessions, nil
}

// OverlappingSessions returns all preorder/active sessions whose
// estimated window intersects [from, to).
func (s *gormStore) OverlappingSessions(ctx context.Context, from, to time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.SessionStatus{model.StatusPreorder, model.StatusActive}).
		Where("est_start < ? AND est_end > ?", to, from).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch overlapping sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormStore) HasActiveSession(ctx context.Context, subscriberID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("subscriber_id = ? AND status = ?", subscriberID, model.StatusActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count > 0, nil
}

// CreatePreorder inserts a preorder session. Inside the transaction the
// assigned spot's window is re-checked; on postgres the exclusion
// constraint additionally rejects a concurrent double-book at commit.
func (s *gormStore) CreatePreorder(ctx context.Context, sess *model.Session) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sess.SpotID != nil {
			var count int64
			err := tx.Model(&model.Session{}).
				Where("spot_id = ?", *sess.SpotID).
				Where("status IN ?", []model.SessionStatus{model.StatusPreorder, model.StatusActive}).
				Where("est_start < ? AND est_end > ?", sess.EstEnd, sess.EstStart).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("failed to recheck spot %d window: %w", *sess.SpotID, err)
			}
			if count > 0 {
				return ErrSpotConflict
			}
		}
		if err := tx.Create(sess).Error; err != nil {
			if isExclusionViolation(err) {
				return ErrSpotConflict
			}
			return fmt.Errorf("failed to create preorder: %w", err)
		}
		return nil
	})
	return err
}

// StartWalkIn claims a free spot and inserts an already-active session
// in one transaction. The conditional update on the occupied flag is
// the guard against two walk-ins racing for the same spot.
func (s *gormStore) StartWalkIn(ctx context.Context, sess *model.Session) error {
	if sess.SpotID == nil {
		return fmt.Errorf("walk-in session requires an assigned spot")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Spot{}).
			Where("id = ? AND occupied = ?", *sess.SpotID, false).
			Update("occupied", true)
		if res.Error != nil {
			return fmt.Errorf("failed to claim spot %d: %w", *sess.SpotID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSpotConflict
		}
		if err := tx.Create(sess).Error; err != nil {
			if isExclusionViolation(err) {
				return ErrSpotConflict
			}
			if isActiveSessionViolation(err) {
				return ErrActiveExists
			}
			return fmt.Errorf("failed to create walk-in session: %w", err)
		}
		return nil
	})
}

// ActivatePreorder flips a preorder to active and marks its spot
// occupied. The status guard in the UPDATE makes a concurrent cancel or
// duplicate check-in lose cleanly.
func (s *gormStore) ActivatePreorder(ctx context.Context, code string, now time.Time) (*model.Session, error) {
	var out *model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("code = ? AND status = ?", code, model.StatusPreorder).
			Updates(map[string]any{
				"status":       model.StatusActive,
				"actual_start": now,
			})
		if res.Error != nil {
			if isActiveSessionViolation(res.Error) {
				return ErrActiveExists
			}
			return fmt.Errorf("failed to activate session %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			return statusOrNotFound(tx, code)
		}

		var sess model.Session
		if err := tx.First(&sess, "code = ?", code).Error; err != nil {
			return fmt.Errorf("failed to reload session %s: %w", code, err)
		}
		if sess.SpotID != nil {
			res := tx.Model(&model.Spot{}).
				Where("id = ? AND occupied = ?", *sess.SpotID, false).
				Update("occupied", true)
			if res.Error != nil {
				return fmt.Errorf("failed to occupy spot %d: %w", *sess.SpotID, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrSpotConflict
			}
		}
		out = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinishSession closes an active session and frees its spot.
func (s *gormStore) FinishSession(ctx context.Context, code string, now time.Time, late bool) (*model.Session, error) {
	var out *model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("code = ? AND status = ?", code, model.StatusActive).
			Updates(map[string]any{
				"status":     model.StatusFinished,
				"actual_end": now,
				"late":       late,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finish session %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			return statusOrNotFound(tx, code)
		}

		var sess model.Session
		if err := tx.First(&sess, "code = ?", code).Error; err != nil {
			return fmt.Errorf("failed to reload session %s: %w", code, err)
		}
		if sess.SpotID != nil {
			if err := freeSpot(tx, *sess.SpotID); err != nil {
				return err
			}
		}
		out = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelSession cancels a preorder or active session. The spot is
// freed only when the session had actually started: a preorder never
// sets the occupied flag, and by cancel time the flag may belong to a
// walk-in that reclaimed the spot after the grace elapsed. Terminal
// sessions report ErrWrongStatus so callers can answer "already
// cancelled".
func (s *gormStore) CancelSession(ctx context.Context, code string) (*model.Session, error) {
	var out *model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("code = ? AND status IN ?", code,
				[]model.SessionStatus{model.StatusPreorder, model.StatusActive}).
			Update("status", model.StatusCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel session %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			return statusOrNotFound(tx, code)
		}

		var sess model.Session
		if err := tx.First(&sess, "code = ?", code).Error; err != nil {
			return fmt.Errorf("failed to reload session %s: %w", code, err)
		}
		if sess.SpotID != nil && sess.ActualStart != nil {
			if err := freeSpot(tx, *sess.SpotID); err != nil {
				return err
			}
		}
		out = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtendSession applies the one-time extension. The extended=false
// guard in the UPDATE enforces at-most-once even under concurrent
// attempts; on postgres the exclusion constraint re-validates the grown
// window at commit.
func (s *gormStore) ExtendSession(ctx context.Context, code string, newEnd time.Time) (*model.Session, error) {
	var out *model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("code = ? AND status = ? AND extended = ?", code, model.StatusActive, false).
			Updates(map[string]any{
				"est_end":  newEnd,
				"extended": true,
			})
		if res.Error != nil {
			if isExclusionViolation(res.Error) {
				return ErrSpotConflict
			}
			return fmt.Errorf("failed to extend session %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			var sess model.Session
			err := tx.First(&sess, "code = ?", code).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to fetch session %s: %w", code, err)
			}
			if sess.Status == model.StatusActive && sess.Extended {
				return ErrAlreadyExtended
			}
			return ErrWrongStatus
		}

		var sess model.Session
		if err := tx.First(&sess, "code = ?", code).Error; err != nil {
			return fmt.Errorf("failed to reload session %s: %w", code, err)
		}
		out = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func freeSpot(tx *gorm.DB, spotID int64) error {
	if err := tx.Model(&model.Spot{}).
		Where("id = ?", spotID).
		Update("occupied", false).Error; err != nil {
		return fmt.Errorf("failed to free spot %d: %w", spotID, err)
	}
	return nil
}

// statusOrNotFound distinguishes a missing session from one in the
// wrong status after a 0-row conditional update.
func statusOrNotFound(tx *gorm.DB, code string) error {
	var sess model.Session
	err := tx.First(&sess, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch session %s: %w", code, err)
	}
	return ErrWrongStatus
}

// isExclusionViolation recognizes the postgres range-guard rejecting a
// double-booked spot/window (SQLSTATE 23P01).
func isExclusionViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23P01") || strings.Contains(msg, "sessions_one_per_spot_window")
}

// isActiveSessionViolation recognizes the partial unique index that
// limits a subscriber to one active session at a time, in both the
// postgres and the sqlite wording.
func isActiveSessionViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "sessions_one_active_per_subscriber") ||
		strings.Contains(msg, "UNIQUE constraint failed: sessions.subscriber_id")
}
