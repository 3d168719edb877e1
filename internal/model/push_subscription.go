package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Each row belongs to one subscriber; a subscriber may register several
// browsers.
type PushSubscription struct {
	Endpoint     string    `gorm:"primaryKey"`
	P256DH       string    `gorm:"column:p256dh;not null"`
	Auth         string    `gorm:"not null"`
	SubscriberID int64     `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}
