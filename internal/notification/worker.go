package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"parking-lot-backend/internal/model"
)

// EventKind classifies a session transition worth telling the owner
// about.
type EventKind string

const (
	EventAutoCancelled EventKind = "auto_cancelled"
	EventLatePickup    EventKind = "late_pickup"
)

// Event is one notification job. The monitor emits exactly one event
// per transition; the row-update-count checks upstream guarantee no
// duplicates reach this channel.
type Event struct {
	Kind         EventKind
	SessionCode  string
	SubscriberID int64
	SpotID       *int64
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush
// library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.notifySubscriber(ctx, ev)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(ev Event) {
	wp.jobs <- ev
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

// notifySubscriber fetches the owner's push subscriptions and sends the
// message for the event to each registered browser.
func (wp *WorkerPool) notifySubscriber(ctx context.Context, ev Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("subscriber_id = ?", ev.SubscriberID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("error fetching push subscriptions for subscriber %d: %v", ev.SubscriberID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	message := wp.messageFor(ev)
	log.Printf("sending %d notifications for session %s (%s)", len(subscriptions), ev.SessionCode, ev.Kind)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) messageFor(ev Event) string {
	switch ev.Kind {
	case EventAutoCancelled:
		return fmt.Sprintf("Reservation %s was cancelled: the check-in grace period elapsed.", ev.SessionCode)
	case EventLatePickup:
		if ev.SpotID != nil {
			return fmt.Sprintf("Session %s on spot %d has passed its estimated end. Please pick up your vehicle.", ev.SessionCode, *ev.SpotID)
		}
		return fmt.Sprintf("Session %s has passed its estimated end. Please pick up your vehicle.", ev.SessionCode)
	default:
		return fmt.Sprintf("Update for parking session %s.", ev.SessionCode)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("subscription for endpoint %s is expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
