package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-lot-backend/internal/model"
)

func testPolicy() Policy {
	return Policy{
		TotalSpots:        10,
		ThresholdFraction: 0.4,
		SlotMinutes:       15,
		GraceMinutes:      15,
		DefaultDuration:   4 * time.Hour,
		MinLead:           24 * time.Hour,
		MaxLead:           7 * 24 * time.Hour,
		ExtensionMinHours: 1,
		ExtensionMaxHours: 4,
	}
}

func spotPtr(id int64) *int64 {
	return &id
}

// nOverlapping builds n preorder sessions on distinct spots all
// covering the given window.
func nOverlapping(n int, start, end time.Time) []model.Session {
	sessions := make([]model.Session, 0, n)
	for i := 0; i < n; i++ {
		sessions = append(sessions, model.Session{
			Code:     string(rune('A' + i)),
			SpotID:   spotPtr(int64(i + 1)),
			EstStart: start,
			EstEnd:   end,
			Status:   model.StatusPreorder,
			Kind:     model.KindReserved,
		})
	}
	return sessions
}

func TestReserveThreshold(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, 4, p.ReserveThreshold())

	p.TotalSpots = 7
	assert.Equal(t, 3, p.ReserveThreshold()) // ceil(2.8)
}

func TestAdmitReservationThresholdBoundary(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(4 * time.Hour)}

	// Five sessions taken: minimum availability 5 > 4, admitted.
	err := AdmitReservation(win, nOverlapping(5, win.Start, win.End), p)
	assert.NoError(t, err)

	// Six sessions taken: minimum availability 4 is not > 4, rejected.
	err = AdmitReservation(win, nOverlapping(6, win.Start, win.End), p)
	require.Error(t, err)
	assert.Equal(t, KindCapacity, KindOf(err))
	assert.Contains(t, ReasonOf(err), "4")
}

func TestMinAvailabilityUsesWorstSlot(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(time.Hour)}

	// One session covers only the last 15-minute slot; the window's
	// minimum is decided by that slot.
	sessions := nOverlapping(5, start, start.Add(45*time.Minute))
	sessions = append(sessions, model.Session{
		Code:     "LAST",
		SpotID:   spotPtr(9),
		EstStart: start.Add(45 * time.Minute),
		EstEnd:   start.Add(time.Hour),
		Status:   model.StatusActive,
		Kind:     model.KindReserved,
	})

	assert.Equal(t, 5, MinAvailability(win, sessions, p))
}

func TestMinAvailabilityIgnoresTerminalSessions(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(time.Hour)}

	sessions := nOverlapping(3, win.Start, win.End)
	sessions[0].Status = model.StatusCancelled
	sessions[1].Status = model.StatusFinished

	assert.Equal(t, 9, MinAvailability(win, sessions, p))
}

func TestMinAvailabilityHalfOpenWindows(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(time.Hour)}

	// A session ending exactly at the window start does not overlap.
	sessions := []model.Session{{
		Code:     "BEFORE",
		SpotID:   spotPtr(1),
		EstStart: start.Add(-2 * time.Hour),
		EstEnd:   start,
		Status:   model.StatusActive,
		Kind:     model.KindReserved,
	}}
	assert.Equal(t, 10, MinAvailability(win, sessions, p))
}

func TestPickSpotForWindowLowestNumbered(t *testing.T) {
	spots := []model.Spot{{ID: 1}, {ID: 2}, {ID: 3}}
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(time.Hour)}

	// Spot 1 is blocked for the window, spot 2 has a non-overlapping
	// session, spot 3 is free.
	sessions := []model.Session{
		{Code: "A", SpotID: spotPtr(1), EstStart: start, EstEnd: win.End, Status: model.StatusPreorder},
		{Code: "B", SpotID: spotPtr(2), EstStart: win.End, EstEnd: win.End.Add(time.Hour), Status: model.StatusPreorder},
	}

	got := PickSpotForWindow(spots, sessions, win)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), *got)
}

func TestPickSpotForWindowAllConflicting(t *testing.T) {
	spots := []model.Spot{{ID: 1}}
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	win := Window{Start: start, End: start.Add(time.Hour)}
	sessions := []model.Session{
		{Code: "A", SpotID: spotPtr(1), EstStart: start, EstEnd: win.End, Status: model.StatusActive},
	}

	assert.Nil(t, PickSpotForWindow(spots, sessions, win))
}

func TestPickSpotForWalkInSkipsGraceHeldPreorder(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	spots := []model.Spot{{ID: 1}, {ID: 2}}

	// Spot 1 is held by a preorder whose grace period is still running:
	// its start was 5 minutes ago.
	sessions := []model.Session{{
		Code:     "HELD",
		SpotID:   spotPtr(1),
		EstStart: now.Add(-5 * time.Minute),
		EstEnd:   now.Add(4 * time.Hour),
		Status:   model.StatusPreorder,
	}}

	got := PickSpotForWalkIn(spots, sessions, now, p)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), *got)
}

func TestPickSpotForWalkInReclaimsExpiredGrace(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	spots := []model.Spot{{ID: 1}}

	// Grace elapsed 20 minutes ago; the monitor will cancel this
	// preorder, so the spot is usable for a walk-in already.
	sessions := []model.Session{{
		Code:     "STALE",
		SpotID:   spotPtr(1),
		EstStart: now.Add(-35 * time.Minute),
		EstEnd:   now.Add(4 * time.Hour),
		Status:   model.StatusPreorder,
	}}

	got := PickSpotForWalkIn(spots, sessions, now, p)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), *got)
}

func TestPickSpotForWalkInFullLot(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	spots := []model.Spot{{ID: 1, Occupied: true}, {ID: 2, Occupied: true}}

	assert.Nil(t, PickSpotForWalkIn(spots, nil, now, p))
}

func TestSpontaneousBypassesReservationThreshold(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Nine spots held by in-grace preorders covering the current
	// instant: minimum availability is 1, far below the strict
	// threshold.
	spots := make([]model.Spot, 0, 10)
	for i := int64(1); i <= 10; i++ {
		spots = append(spots, model.Spot{ID: i})
	}
	sessions := nOverlapping(9, now.Add(-5*time.Minute), now.Add(4*time.Hour))

	// A reservation for this window is rejected by the strict rule...
	win := Window{Start: now, End: now.Add(4 * time.Hour)}
	err := AdmitReservation(win, sessions, p)
	require.Error(t, err)
	assert.Equal(t, KindCapacity, KindOf(err))

	// ...while the walk-in still finds the last free spot.
	got := PickSpotForWalkIn(spots, sessions, now, p)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), *got)
}

func TestFixedBlockWindow(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 3, 10, 9, 7, 0, 0, time.UTC)

	win, err := FixedBlock{}.Window(start, p)
	require.NoError(t, err)
	assert.Equal(t, start, win.Start)
	assert.Equal(t, start.Add(4*time.Hour), win.End)
}

func TestSlotAlignedWindow(t *testing.T) {
	p := testPolicy()

	aligned := time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)
	win, err := SlotAligned{Slots: 3}.Window(aligned, p)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, win.Duration())

	_, err = SlotAligned{Slots: 3}.Window(aligned.Add(7*time.Minute), p)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = SlotAligned{Slots: 0}.Window(aligned, p)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}
