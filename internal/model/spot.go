package model

import "time"

// Spot represents a single physical parking bay. The occupied flag is
// mutated only inside store transactions, never through shared memory.
type Spot struct {
	ID        int64     `gorm:"primaryKey"`
	Occupied  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
