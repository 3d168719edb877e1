package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"parking-lot-backend/internal/model"
	"parking-lot-backend/internal/pool"
	"parking-lot-backend/internal/store"
)

// Engine is the reservation lifecycle manager. It owns the session
// state machine and delegates capacity decisions to the availability
// calculator and authorization to the ownership guard. All persistence
// goes through pool-scoped store transactions; the engine keeps no
// session state in memory.
type Engine struct {
	pool   *pool.Pool
	policy Policy

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewEngine constructs the lifecycle manager over an explicit handle
// pool. The pool is passed in, never reached through a global.
func NewEngine(p *pool.Pool, policy Policy) *Engine {
	return &Engine{pool: p, policy: policy, Now: time.Now}
}

// Policy exposes the active allocation policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Ticket is the caller-facing receipt for an admitted session.
type Ticket struct {
	Code   string `json:"code"`
	SpotID int64  `json:"spot"`
}

// AvailabilityReport answers a capacity query.
type AvailabilityReport struct {
	FreeSpots      int  `json:"freeSpots"`
	MeetsThreshold bool `json:"meetsThreshold"`
}

// with scopes a handle acquisition around fn and normalizes failures:
// pool exhaustion surfaces as a backpressure error, unknown failures as
// persistence errors logged with context.
func (e *Engine) with(ctx context.Context, fn func(st store.Store) error) error {
	err := e.pool.With(ctx, func(db *gorm.DB) error {
		return fn(store.New(db))
	})
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, pool.ErrAcquireTimeout) || errors.Is(err, pool.ErrClosed) {
		return wrapError(KindPoolTimeout, err, "system busy, no persistence handle available")
	}
	log.Printf("persistence failure: %v", err)
	return wrapError(KindPersistence, err, "operation failed")
}

// MakeReservation admits a new pre-booked window for the subscriber.
// The strategy picks the window shape; nil means the default fixed
// block. Lead-time limits are business policy, not caller-negotiable.
func (e *Engine) MakeReservation(ctx context.Context, subscriberID int64, start time.Time, strategy WindowStrategy) (*Ticket, error) {
	if subscriberID <= 0 {
		return nil, newError(KindValidation, "subscriber id is required")
	}
	if start.IsZero() {
		return nil, newError(KindValidation, "start time is required")
	}
	if strategy == nil {
		strategy = FixedBlock{}
	}

	now := e.Now()
	lead := start.Sub(now)
	if lead < e.policy.MinLead {
		return nil, newError(KindValidation,
			"reservations require at least %s lead time", e.policy.MinLead)
	}
	if lead > e.policy.MaxLead {
		return nil, newError(KindValidation,
			"reservations may be placed at most %s ahead", e.policy.MaxLead)
	}

	win, err := strategy.Window(start, e.policy)
	if err != nil {
		return nil, err
	}

	var ticket *Ticket
	err = e.with(ctx, func(st store.Store) error {
		sessions, err := st.OverlappingSessions(ctx, win.Start, win.End)
		if err != nil {
			return err
		}
		if err := AdmitReservation(win, sessions, e.policy); err != nil {
			return err
		}

		spots, err := st.Spots(ctx)
		if err != nil {
			return err
		}
		spotID := PickSpotForWindow(spots, sessions, win)
		if spotID == nil {
			return newError(KindConflict, "no spot is free across the requested window")
		}

		sess := &model.Session{
			Code:         newCode(),
			SubscriberID: subscriberID,
			SpotID:       spotID,
			PlacedAt:     now,
			EstStart:     win.Start,
			EstEnd:       win.End,
			Kind:         model.KindReserved,
			Status:       model.StatusPreorder,
		}
		if err := st.CreatePreorder(ctx, sess); err != nil {
			if errors.Is(err, store.ErrSpotConflict) {
				return wrapError(KindConflict, err, "spot was claimed concurrently, please retry")
			}
			return err
		}
		ticket = &Ticket{Code: sess.Code, SpotID: *spotID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// EnterSpontaneous admits a walk-in. Walk-ins bypass the reservation
// threshold entirely and are rejected only when the lot is full or the
// subscriber already has a session in progress.
func (e *Engine) EnterSpontaneous(ctx context.Context, subscriberID int64) (*Ticket, error) {
	if subscriberID <= 0 {
		return nil, newError(KindValidation, "subscriber id is required")
	}

	now := e.Now()
	var ticket *Ticket
	err := e.with(ctx, func(st store.Store) error {
		active, err := st.HasActiveSession(ctx, subscriberID)
		if err != nil {
			return err
		}
		if active {
			return newError(KindAlreadyActive, "subscriber already has a session in progress")
		}

		spots, err := st.Spots(ctx)
		if err != nil {
			return err
		}
		sessions, err := st.OverlappingSessions(ctx, now, now.Add(e.policy.DefaultDuration))
		if err != nil {
			return err
		}
		spotID := PickSpotForWalkIn(spots, sessions, now, e.policy)
		if spotID == nil {
			return newError(KindLotFull, "the lot is entirely full")
		}

		start := now
		sess := &model.Session{
			Code:         newCode(),
			SubscriberID: subscriberID,
			SpotID:       spotID,
			PlacedAt:     now,
			EstStart:     now,
			EstEnd:       now.Add(e.policy.DefaultDuration),
			ActualStart:  &start,
			Kind:         model.KindSpontaneous,
			Status:       model.StatusActive,
		}
		if err := st.StartWalkIn(ctx, sess); err != nil {
			return e.mapStoreErr(err, sess.Code)
		}
		ticket = &Ticket{Code: sess.Code, SpotID: *spotID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// EnterWithReservation checks a preorder in. Valid only within the
// grace window on the reservation's own calendar day; a late or
// wrong-day attempt cancels the preorder on the spot.
func (e *Engine) EnterWithReservation(ctx context.Context, code string) (*Ticket, error) {
	if code == "" {
		return nil, newError(KindValidation, "session code is required")
	}

	now := e.Now()
	var ticket *Ticket
	err := e.with(ctx, func(st store.Store) error {
		sess, err := st.SessionByCode(ctx, code)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		if sess.Status != model.StatusPreorder {
			return notFoundForStatus(sess)
		}

		if now.Before(sess.EstStart) {
			return newError(KindValidation,
				"check-in opens at %s", sess.EstStart.Format(time.RFC3339))
		}
		if !sameDay(now, sess.EstStart) || now.After(sess.EstStart.Add(e.policy.Grace())) {
			if _, err := st.CancelSession(ctx, code); err != nil &&
				!errors.Is(err, store.ErrWrongStatus) {
				return e.mapStoreErr(err, code)
			}
			return newError(KindExpired,
				"check-in grace period of %d minutes elapsed, reservation cancelled", e.policy.GraceMinutes)
		}

		activated, err := st.ActivatePreorder(ctx, code, now)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		ticket = &Ticket{Code: activated.Code, SpotID: *activated.SpotID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Exit closes the caller's active session. Lateness is decided here,
// once, against the estimated end; the monitor flags still-running
// overdue sessions independently.
func (e *Engine) Exit(ctx context.Context, code string, callerID int64) (bool, error) {
	if code == "" || callerID <= 0 {
		return false, newError(KindValidation, "session code and subscriber id are required")
	}

	now := e.Now()
	var late bool
	err := e.with(ctx, func(st store.Store) error {
		sess, err := st.SessionByCode(ctx, code)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		if err := verifyOwnership(ctx, st, sess, callerID); err != nil {
			return err
		}
		if sess.Status != model.StatusActive {
			return notFoundForStatus(sess)
		}

		late = now.After(sess.EstEnd)
		if _, err := st.FinishSession(ctx, code, now, late); err != nil {
			return e.mapStoreErr(err, code)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return late, nil
}

// Extend grants the one-time 1–4 hour prolongation of an active
// session, provided no preorder already claims the spot across the
// grown window.
func (e *Engine) Extend(ctx context.Context, code string, hours int, callerID int64) (time.Time, error) {
	if code == "" || callerID <= 0 {
		return time.Time{}, newError(KindValidation, "session code and subscriber id are required")
	}
	if hours < e.policy.ExtensionMinHours || hours > e.policy.ExtensionMaxHours {
		return time.Time{}, newError(KindValidation,
			"extension must be between %d and %d hours", e.policy.ExtensionMinHours, e.policy.ExtensionMaxHours)
	}

	var newEnd time.Time
	err := e.with(ctx, func(st store.Store) error {
		sess, err := st.SessionByCode(ctx, code)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		if err := verifyOwnership(ctx, st, sess, callerID); err != nil {
			return err
		}
		if sess.Status != model.StatusActive {
			return notFoundForStatus(sess)
		}
		if sess.Extended {
			return newError(KindAlreadyExtended, "session was already extended once")
		}

		end := sess.EstEnd.Add(time.Duration(hours) * time.Hour)
		if sess.SpotID != nil {
			overlapping, err := st.OverlappingSessions(ctx, sess.EstEnd, end)
			if err != nil {
				return err
			}
			for i := range overlapping {
				o := &overlapping[i]
				if o.Code == sess.Code || o.SpotID == nil || *o.SpotID != *sess.SpotID {
					continue
				}
				return newError(KindConflict,
					"a reservation already claims spot %d before %s", *sess.SpotID, end.Format(time.RFC3339))
			}
		}

		extended, err := st.ExtendSession(ctx, code, end)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		newEnd = extended.EstEnd
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newEnd, nil
}

// Cancel cancels a preorder or active session. A nil caller is a
// system-initiated cancel and bypasses the ownership guard.
func (e *Engine) Cancel(ctx context.Context, code string, callerID *int64) error {
	if code == "" {
		return newError(KindValidation, "session code is required")
	}

	return e.with(ctx, func(st store.Store) error {
		sess, err := st.SessionByCode(ctx, code)
		if err != nil {
			return e.mapStoreErr(err, code)
		}
		if callerID != nil {
			if err := verifyOwnership(ctx, st, sess, *callerID); err != nil {
				return err
			}
		}
		if _, err := st.CancelSession(ctx, code); err != nil {
			return e.mapStoreErr(err, code)
		}
		return nil
	})
}

// Availability answers a capacity query. Without a window it reports
// the spots free right now; with one it reports the window's minimum
// availability. MeetsThreshold states whether a reservation would pass
// the strict admission rule at that level.
func (e *Engine) Availability(ctx context.Context, win *Window) (*AvailabilityReport, error) {
	var report *AvailabilityReport
	err := e.with(ctx, func(st store.Store) error {
		if win == nil {
			spots, err := st.Spots(ctx)
			if err != nil {
				return err
			}
			free := FreeNow(spots)
			report = &AvailabilityReport{
				FreeSpots:      free,
				MeetsThreshold: free > e.policy.ReserveThreshold(),
			}
			return nil
		}

		if !win.Start.Before(win.End) {
			return newError(KindValidation, "window start must precede its end")
		}
		sessions, err := st.OverlappingSessions(ctx, win.Start, win.End)
		if err != nil {
			return err
		}
		min := MinAvailability(*win, sessions, e.policy)
		report = &AvailabilityReport{
			FreeSpots:      min,
			MeetsThreshold: min > e.policy.ReserveThreshold(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// History returns the subscriber's sessions, newest first. Read-only
// and identity-scoped upstream, so no ownership guard.
func (e *Engine) History(ctx context.Context, subscriberID int64) ([]model.Session, error) {
	if subscriberID <= 0 {
		return nil, newError(KindValidation, "subscriber id is required")
	}
	var sessions []model.Session
	err := e.with(ctx, func(st store.Store) error {
		var err error
		sessions, err = st.SubscriberSessions(ctx, subscriberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// mapStoreErr translates store sentinels into the caller-facing
// taxonomy.
func (e *Engine) mapStoreErr(err error, code string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, "invalid code %q", code)
	case errors.Is(err, store.ErrWrongStatus):
		return newError(KindNotFound, "session %s is already cancelled or finished", code)
	case errors.Is(err, store.ErrAlreadyExtended):
		return newError(KindAlreadyExtended, "session was already extended once")
	case errors.Is(err, store.ErrSpotConflict):
		return wrapError(KindConflict, err, "spot was claimed concurrently, please retry")
	case errors.Is(err, store.ErrActiveExists):
		return wrapError(KindAlreadyActive, err, "subscriber already has a session in progress")
	default:
		return err
	}
}

// notFoundForStatus words the rejection after a wrong-status lookup the
// way callers expect it.
func notFoundForStatus(sess *model.Session) error {
	switch sess.Status {
	case model.StatusCancelled:
		return newError(KindNotFound, "session %s is already cancelled", sess.Code)
	case model.StatusFinished:
		return newError(KindNotFound, "session %s is already finished", sess.Code)
	case model.StatusActive:
		return newError(KindNotFound, "session %s is already checked in", sess.Code)
	default:
		return newError(KindNotFound, "session %s is not in a valid state for this operation", sess.Code)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
