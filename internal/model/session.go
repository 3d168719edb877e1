package model

import "time"

// OrderKind distinguishes a pre-booked reservation from a walk-in.
type OrderKind string

const (
	KindReserved    OrderKind = "reserved"
	KindSpontaneous OrderKind = "spontaneous"
)

// SessionStatus is the lifecycle state of a parking session. Transitions
// only move forward: preorder -> {active, cancelled},
// active -> {finished, cancelled}; finished and cancelled are terminal.
type SessionStatus string

const (
	StatusPreorder  SessionStatus = "preorder"
	StatusActive    SessionStatus = "active"
	StatusFinished  SessionStatus = "finished"
	StatusCancelled SessionStatus = "cancelled"
)

// Session is a reservation or walk-in parking instance. The Code is the
// externally visible identifier handed to the subscriber. Sessions are
// never deleted; finished and cancelled rows remain as history.
type Session struct {
	Code         string        `gorm:"primaryKey;size:32"`
	SubscriberID int64         `gorm:"index;not null"`
	SpotID       *int64        `gorm:"index"`
	PlacedAt     time.Time     `gorm:"not null"`
	EstStart     time.Time     `gorm:"index;not null"`
	EstEnd       time.Time     `gorm:"index;not null"`
	ActualStart  *time.Time
	ActualEnd    *time.Time
	Kind         OrderKind     `gorm:"size:16;not null"`
	Status       SessionStatus `gorm:"size:16;index;not null"`
	Late         bool          `gorm:"not null;default:false"`
	Extended     bool          `gorm:"not null;default:false"`
	CreatedAt    time.Time     `gorm:"not null"`
	UpdatedAt    time.Time     `gorm:"not null"`

	// Associations
	Spot       *Spot      `gorm:"foreignKey:SpotID"`
	Subscriber Subscriber `gorm:"foreignKey:SubscriberID"`
}

// InProgress reports whether the session holds a spot at instant t.
func (s *Session) InProgress(t time.Time) bool {
	if s.Status != StatusActive || s.ActualStart == nil {
		return false
	}
	if t.Before(*s.ActualStart) {
		return false
	}
	return s.ActualEnd == nil || t.Before(*s.ActualEnd)
}

// Overlaps reports whether the session's estimated window intersects
// [from, to). Windows are half-open: touching endpoints do not overlap.
func (s *Session) Overlaps(from, to time.Time) bool {
	return s.EstStart.Before(to) && from.Before(s.EstEnd)
}
