package model

import "time"

// Role classifies an account. Attendants and managers may operate on
// sessions they do not own; plain subscribers may not.
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RoleAttendant  Role = "attendant"
	RoleManager    Role = "manager"
)

// Subscriber is an account known to the lot. Identity management lives
// in an external collaborator; this core only reads these rows.
type Subscriber struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"size:128;not null"`
	Role      Role      `gorm:"size:16;not null;default:'subscriber'"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Staff reports whether the subscriber may bypass the ownership guard.
func (s *Subscriber) Staff() bool {
	return s.Role == RoleAttendant || s.Role == RoleManager
}
