package engine

import (
	"math"
	"time"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/model"
)

// Policy carries the lot's allocation parameters. All values come from
// configuration; see config.LotConfig.
type Policy struct {
	TotalSpots        int
	ThresholdFraction float64
	SlotMinutes       int
	GraceMinutes      int
	DefaultDuration   time.Duration
	MinLead           time.Duration
	MaxLead           time.Duration
	ExtensionMinHours int
	ExtensionMaxHours int
}

// PolicyFromConfig maps the loaded lot configuration onto a Policy.
func PolicyFromConfig(cfg config.LotConfig) Policy {
	return Policy{
		TotalSpots:        cfg.TotalSpots,
		ThresholdFraction: cfg.ThresholdFraction,
		SlotMinutes:       cfg.SlotMinutes,
		GraceMinutes:      cfg.GraceMinutes,
		DefaultDuration:   time.Duration(cfg.DefaultDurationHours) * time.Hour,
		MinLead:           time.Duration(cfg.MinLeadHours) * time.Hour,
		MaxLead:           time.Duration(cfg.MaxLeadDays) * 24 * time.Hour,
		ExtensionMinHours: cfg.ExtensionMinHours,
		ExtensionMaxHours: cfg.ExtensionMaxHours,
	}
}

// ReserveThreshold is the number of spots that must stay free for
// walk-ins: ceil(total * fraction). A reservation is admitted only when
// the window's minimum availability strictly exceeds this.
func (p Policy) ReserveThreshold() int {
	return int(math.Ceil(float64(p.TotalSpots) * p.ThresholdFraction))
}

// Slot is the granularity at which availability is sampled.
func (p Policy) Slot() time.Duration {
	return time.Duration(p.SlotMinutes) * time.Minute
}

// Grace is the check-in window after a reservation's estimated start.
func (p Policy) Grace() time.Duration {
	return time.Duration(p.GraceMinutes) * time.Minute
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// WindowStrategy turns a requested start time into a concrete booking
// window. The two variants the lot supports are the fixed default block
// and the fine-grained slot-aligned booking.
type WindowStrategy interface {
	Window(start time.Time, p Policy) (Window, error)
}

// FixedBlock books the default span (4 hours by policy) from the
// requested start.
type FixedBlock struct{}

func (FixedBlock) Window(start time.Time, p Policy) (Window, error) {
	return Window{Start: start, End: start.Add(p.DefaultDuration)}, nil
}

// SlotAligned books a fine-grained window of Slots × slot-granularity
// minutes. The start must fall on a slot boundary.
type SlotAligned struct {
	Slots int
}

func (s SlotAligned) Window(start time.Time, p Policy) (Window, error) {
	if s.Slots < 1 {
		return Window{}, newError(KindValidation, "booking must cover at least one %d-minute slot", p.SlotMinutes)
	}
	if start.Second() != 0 || start.Nanosecond() != 0 || start.Minute()%p.SlotMinutes != 0 {
		return Window{}, newError(KindValidation, "start time must align to the %d-minute slot granularity", p.SlotMinutes)
	}
	return Window{Start: start, End: start.Add(time.Duration(s.Slots) * p.Slot())}, nil
}

// MinAvailability scans the window at slot granularity and returns the
// smallest free-spot count across it. A session occupies a slot when
// its estimated window intersects the slot and it is still preorder or
// active; finished and cancelled sessions never count.
func MinAvailability(win Window, sessions []model.Session, p Policy) int {
	min := p.TotalSpots
	for t := win.Start; t.Before(win.End); t = t.Add(p.Slot()) {
		slotEnd := t.Add(p.Slot())
		if slotEnd.After(win.End) {
			slotEnd = win.End
		}
		occupied := 0
		for i := range sessions {
			s := &sessions[i]
			if s.Status != model.StatusPreorder && s.Status != model.StatusActive {
				continue
			}
			if s.Overlaps(t, slotEnd) {
				occupied++
			}
		}
		if free := p.TotalSpots - occupied; free < min {
			min = free
		}
	}
	if min < 0 {
		min = 0
	}
	return min
}

// AdmitReservation applies the strict reservation rule: the window's
// minimum availability must strictly exceed the reserve threshold so
// that capacity stays free for walk-ins.
func AdmitReservation(win Window, sessions []model.Session, p Policy) error {
	threshold := p.ReserveThreshold()
	min := MinAvailability(win, sessions, p)
	if min <= threshold {
		return newError(KindCapacity,
			"window minimum availability is %d, reservation requires more than %d free spots", min, threshold)
	}
	return nil
}

// PickSpotForWindow chooses the lowest-numbered spot with no preorder
// or active session overlapping the requested window. Returns nil when
// every spot conflicts.
func PickSpotForWindow(spots []model.Spot, sessions []model.Session, win Window) *int64 {
	for _, spot := range spots {
		if spotFreeForWindow(spot.ID, sessions, win) {
			id := spot.ID
			return &id
		}
	}
	return nil
}

func spotFreeForWindow(spotID int64, sessions []model.Session, win Window) bool {
	for i := range sessions {
		s := &sessions[i]
		if s.SpotID == nil || *s.SpotID != spotID {
			continue
		}
		if s.Status != model.StatusPreorder && s.Status != model.StatusActive {
			continue
		}
		if s.Overlaps(win.Start, win.End) {
			return false
		}
	}
	return true
}

// PickSpotForWalkIn chooses a spot for a spontaneous entry: currently
// unoccupied, and not held by a preorder that still has an unexpired
// grace period and would collide with the walk-in's assumed window.
// Walk-ins are exempt from the reserve threshold; nil means the lot is
// entirely full.
func PickSpotForWalkIn(spots []model.Spot, sessions []model.Session, now time.Time, p Policy) *int64 {
	win := Window{Start: now, End: now.Add(p.DefaultDuration)}
	for _, spot := range spots {
		if spot.Occupied {
			continue
		}
		if walkInBlocked(spot.ID, sessions, win, now, p) {
			continue
		}
		id := spot.ID
		return &id
	}
	return nil
}

func walkInBlocked(spotID int64, sessions []model.Session, win Window, now time.Time, p Policy) bool {
	for i := range sessions {
		s := &sessions[i]
		if s.SpotID == nil || *s.SpotID != spotID || s.Status != model.StatusPreorder {
			continue
		}
		if !s.Overlaps(win.Start, win.End) {
			continue
		}
		// A preorder past its grace period is dead weight the monitor
		// will cancel; it no longer holds the spot.
		if now.Before(s.EstStart.Add(p.Grace())) {
			return true
		}
	}
	return false
}

// FreeNow counts spots with the occupied flag unset.
func FreeNow(spots []model.Spot) int {
	free := 0
	for _, s := range spots {
		if !s.Occupied {
			free++
		}
	}
	return free
}
