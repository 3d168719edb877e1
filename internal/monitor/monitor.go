package monitor

import (
	"context"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/engine"
	"parking-lot-backend/internal/model"
	"parking-lot-backend/internal/notification"
	"parking-lot-backend/internal/pool"
	"parking-lot-backend/internal/store"
)

// Notifier receives one event per session transition the sweep
// performs.
type Notifier interface {
	Dispatch(ev notification.Event)
}

// Service is the background consistency monitor. On a fixed period it
// runs two independent passes against persistence, each in its own
// transaction: stale-preorder cancellation and late-pickup flagging.
// It shares nothing with request workers except the handle pool and
// the store's transactional guarantees.
type Service struct {
	cfg      *config.MonitorConfig
	pool     *pool.Pool
	policy   engine.Policy
	notifier Notifier

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewService creates the monitor over an explicit pool and policy.
func NewService(cfg *config.MonitorConfig, p *pool.Pool, policy engine.Policy, notifier Notifier) *Service {
	return &Service{
		cfg:      cfg,
		pool:     p,
		policy:   policy,
		notifier: notifier,
		Now:      time.Now,
	}
}

// Run starts the sweep loop. It returns when ctx is cancelled; an
// in-flight sweep finishes (or rolls back) before Run returns, so
// shutdown can safely close the pool afterwards.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("consistency monitor is disabled, not starting")
		return
	}
	log.Println("starting consistency monitor...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("consistency monitor shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce executes one sweep cycle: both passes, each with its own
// pool handle, transaction and statement timeout, so a stuck pass
// cannot starve request workers indefinitely.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.Now()

	if err := s.expireStalePreorders(ctx, now); err != nil {
		log.Printf("monitor: stale-preorder pass failed: %v", err)
	}
	if err := s.flagLatePickups(ctx, now); err != nil {
		log.Printf("monitor: late-pickup pass failed: %v", err)
	}
}

func (s *Service) expireStalePreorders(ctx context.Context, now time.Time) error {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.StatementTimeout)
	defer cancel()

	return s.pool.With(passCtx, func(db *gorm.DB) error {
		expired, err := store.New(db).ExpireStalePreorders(passCtx, now, s.policy.Grace())
		if err != nil {
			return err
		}
		for i := range expired {
			sess := &expired[i]
			log.Printf("monitor: cancelled stale preorder %s (spot %s)", sess.Code, spotLabel(sess))
			s.notify(notification.Event{
				Kind:         notification.EventAutoCancelled,
				SessionCode:  sess.Code,
				SubscriberID: sess.SubscriberID,
				SpotID:       sess.SpotID,
			})
		}
		return nil
	})
}

func (s *Service) flagLatePickups(ctx context.Context, now time.Time) error {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.StatementTimeout)
	defer cancel()

	return s.pool.With(passCtx, func(db *gorm.DB) error {
		flagged, err := store.New(db).FlagLateSessions(passCtx, now)
		if err != nil {
			return err
		}
		for i := range flagged {
			sess := &flagged[i]
			log.Printf("monitor: flagged session %s late (spot %s)", sess.Code, spotLabel(sess))
			s.notify(notification.Event{
				Kind:         notification.EventLatePickup,
				SessionCode:  sess.Code,
				SubscriberID: sess.SubscriberID,
				SpotID:       sess.SpotID,
			})
		}
		return nil
	})
}

func (s *Service) notify(ev notification.Event) {
	if s.notifier != nil {
		s.notifier.Dispatch(ev)
	}
}

func spotLabel(sess *model.Session) string {
	if sess.SpotID == nil {
		return "unassigned"
	}
	return "#" + strconv.FormatInt(*sess.SpotID, 10)
}
