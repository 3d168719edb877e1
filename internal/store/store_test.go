package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-lot-backend/internal/model"
)

var storeBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Subscriber{}, &model.Spot{}, &model.Session{}, &model.PushSubscription{},
	))
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, db.Create(&model.Spot{ID: id}).Error)
	}
	return New(db), db
}

func spotPtr(id int64) *int64 {
	return &id
}

func seedActive(t *testing.T, db *gorm.DB, code string, spotID int64) {
	t.Helper()
	start := storeBase
	require.NoError(t, db.Create(&model.Session{
		Code:         code,
		SubscriberID: 1,
		SpotID:       spotPtr(spotID),
		PlacedAt:     storeBase,
		EstStart:     storeBase,
		EstEnd:       storeBase.Add(4 * time.Hour),
		ActualStart:  &start,
		Kind:         model.KindSpontaneous,
		Status:       model.StatusActive,
	}).Error)
	require.NoError(t, db.Model(&model.Spot{}).Where("id = ?", spotID).Update("occupied", true).Error)
}

func TestCancelSessionIsConditional(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	seedActive(t, db, "ACT1", 1)

	sess, err := st.CancelSession(ctx, "ACT1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, sess.Status)

	var spot model.Spot
	require.NoError(t, db.First(&spot, 1).Error)
	assert.False(t, spot.Occupied)

	// Terminal sessions report the wrong-status sentinel, not success.
	_, err = st.CancelSession(ctx, "ACT1")
	assert.ErrorIs(t, err, ErrWrongStatus)

	_, err = st.CancelSession(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelPreorderKeepsReclaimedSpot(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	// The walk-in holds spot 1; a stale preorder for the same spot is
	// still around, about to be cancelled.
	seedActive(t, db, "WALKIN", 1)
	require.NoError(t, db.Create(&model.Session{
		Code:         "STALEPRE",
		SubscriberID: 2,
		SpotID:       spotPtr(1),
		PlacedAt:     storeBase.Add(-24 * time.Hour),
		EstStart:     storeBase.Add(-20 * time.Minute),
		EstEnd:       storeBase.Add(4 * time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}).Error)

	sess, err := st.CancelSession(ctx, "STALEPRE")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, sess.Status)

	// The preorder never occupied the spot, so cancelling it must not
	// release the walk-in's claim.
	var spot model.Spot
	require.NoError(t, db.First(&spot, 1).Error)
	assert.True(t, spot.Occupied)
}

func TestExtendSessionAtMostOnce(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	seedActive(t, db, "ACT2", 1)

	newEnd := storeBase.Add(6 * time.Hour)
	sess, err := st.ExtendSession(ctx, "ACT2", newEnd)
	require.NoError(t, err)
	assert.True(t, sess.Extended)
	assert.Equal(t, newEnd.UTC(), sess.EstEnd.UTC())

	_, err = st.ExtendSession(ctx, "ACT2", newEnd.Add(time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyExtended)

	// The second attempt left the end untouched.
	var reread model.Session
	require.NoError(t, db.First(&reread, "code = ?", "ACT2").Error)
	assert.Equal(t, newEnd.UTC(), reread.EstEnd.UTC())
}

func TestExtendRejectsNonActive(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	seedActive(t, db, "ACT3", 1)
	require.NoError(t, db.Model(&model.Session{}).
		Where("code = ?", "ACT3").
		Update("status", model.StatusFinished).Error)

	_, err := st.ExtendSession(ctx, "ACT3", storeBase.Add(6*time.Hour))
	assert.ErrorIs(t, err, ErrWrongStatus)
}

func TestStartWalkInClaimsSpotAtomically(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := storeBase
	mkSession := func(code string, spotID int64) *model.Session {
		return &model.Session{
			Code:         code,
			SubscriberID: 2,
			SpotID:       spotPtr(spotID),
			PlacedAt:     storeBase,
			EstStart:     storeBase,
			EstEnd:       storeBase.Add(4 * time.Hour),
			ActualStart:  &start,
			Kind:         model.KindSpontaneous,
			Status:       model.StatusActive,
		}
	}

	require.NoError(t, st.StartWalkIn(ctx, mkSession("WLK1", 2)))

	var spot model.Spot
	require.NoError(t, db.First(&spot, 2).Error)
	assert.True(t, spot.Occupied)

	// The conditional claim loses against the already-set flag.
	err := st.StartWalkIn(ctx, mkSession("WLK2", 2))
	assert.ErrorIs(t, err, ErrSpotConflict)

	var count int64
	require.NoError(t, db.Model(&model.Session{}).Where("code = ?", "WLK2").Count(&count).Error)
	assert.Zero(t, count)
}

func TestStartWalkInRejectsSecondActivePerSubscriber(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	// Same partial unique index the postgres range-guard DDL installs.
	require.NoError(t, db.Exec(
		"CREATE UNIQUE INDEX sessions_one_active_per_subscriber "+
			"ON sessions (subscriber_id) WHERE status = 'active'").Error)

	seedActive(t, db, "FIRST", 1)

	start := storeBase
	err := st.StartWalkIn(ctx, &model.Session{
		Code:         "SECOND",
		SubscriberID: 1,
		SpotID:       spotPtr(2),
		PlacedAt:     storeBase,
		EstStart:     storeBase,
		EstEnd:       storeBase.Add(4 * time.Hour),
		ActualStart:  &start,
		Kind:         model.KindSpontaneous,
		Status:       model.StatusActive,
	})
	assert.ErrorIs(t, err, ErrActiveExists)

	// The rolled-back transaction released the spot claim.
	var spot model.Spot
	require.NoError(t, db.First(&spot, 2).Error)
	assert.False(t, spot.Occupied)
}

func TestActivatePreorder(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Session{
		Code:         "PRE1",
		SubscriberID: 1,
		SpotID:       spotPtr(1),
		PlacedAt:     storeBase.Add(-24 * time.Hour),
		EstStart:     storeBase,
		EstEnd:       storeBase.Add(4 * time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}).Error)

	sess, err := st.ActivatePreorder(ctx, "PRE1", storeBase.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, sess.Status)
	require.NotNil(t, sess.ActualStart)

	var spot model.Spot
	require.NoError(t, db.First(&spot, 1).Error)
	assert.True(t, spot.Occupied)

	// A duplicate check-in hits the status guard.
	_, err = st.ActivatePreorder(ctx, "PRE1", storeBase.Add(6*time.Minute))
	assert.ErrorIs(t, err, ErrWrongStatus)
}

func TestCreatePreorderRechecksWindow(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	first := &model.Session{
		Code:         "PRE2",
		SubscriberID: 1,
		SpotID:       spotPtr(1),
		PlacedAt:     storeBase,
		EstStart:     storeBase.Add(24 * time.Hour),
		EstEnd:       storeBase.Add(28 * time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}
	require.NoError(t, st.CreatePreorder(ctx, first))

	// Same spot, overlapping window: the in-transaction recheck wins
	// even without the postgres exclusion constraint.
	second := &model.Session{
		Code:         "PRE3",
		SubscriberID: 2,
		SpotID:       spotPtr(1),
		PlacedAt:     storeBase,
		EstStart:     storeBase.Add(26 * time.Hour),
		EstEnd:       storeBase.Add(30 * time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}
	err := st.CreatePreorder(ctx, second)
	assert.ErrorIs(t, err, ErrSpotConflict)

	// A back-to-back window on the same spot is fine.
	third := &model.Session{
		Code:         "PRE4",
		SubscriberID: 2,
		SpotID:       spotPtr(1),
		PlacedAt:     storeBase,
		EstStart:     storeBase.Add(28 * time.Hour),
		EstEnd:       storeBase.Add(32 * time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}
	assert.NoError(t, st.CreatePreorder(ctx, third))

	var count int64
	require.NoError(t, db.Model(&model.Session{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestOverlappingSessionsHalfOpen(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Session{
		Code:         "WIN1",
		SubscriberID: 1,
		SpotID:       spotPtr(1),
		EstStart:     storeBase,
		EstEnd:       storeBase.Add(time.Hour),
		Kind:         model.KindReserved,
		Status:       model.StatusPreorder,
	}).Error)

	// Adjacent window: no overlap.
	got, err := st.OverlappingSessions(ctx, storeBase.Add(time.Hour), storeBase.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	// One-minute intersection.
	got, err = st.OverlappingSessions(ctx, storeBase.Add(59*time.Minute), storeBase.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Terminal sessions never count.
	require.NoError(t, db.Model(&model.Session{}).
		Where("code = ?", "WIN1").
		Update("status", model.StatusCancelled).Error)
	got, err = st.OverlappingSessions(ctx, storeBase, storeBase.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHasActiveSession(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	seedActive(t, db, "ACT4", 3)

	active, err := st.HasActiveSession(ctx, 1)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = st.HasActiveSession(ctx, 2)
	require.NoError(t, err)
	assert.False(t, active)
}
