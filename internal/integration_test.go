package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/api"
	"parking-lot-backend/internal/engine"
	"parking-lot-backend/internal/model"
	"parking-lot-backend/internal/pool"
)

var apiBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// TestEngineOverHTTP walks the main session flows through the real
// router, dispatcher, engine and store against an in-memory database.
func TestEngineOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:apitest?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Subscriber{}, &model.Spot{}, &model.Session{}, &model.PushSubscription{},
	))
	for id := int64(1); id <= 10; id++ {
		require.NoError(t, db.Create(&model.Spot{ID: id}).Error)
	}

	policy := engine.PolicyFromConfig(config.LotConfig{
		TotalSpots:           10,
		ThresholdFraction:    0.4,
		GraceMinutes:         15,
		SlotMinutes:          15,
		DefaultDurationHours: 4,
		MinLeadHours:         24,
		MaxLeadDays:          7,
		ExtensionMinHours:    1,
		ExtensionMaxHours:    4,
	})
	eng := engine.NewEngine(pool.New(db, 3, time.Second), policy)
	eng.Now = func() time.Time { return apiBase }

	serverCfg := &config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1}
	router := api.NewRouter(engine.NewDispatcher(eng), db, serverCfg, nil)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Walk-in entry claims the first spot.
	w := do(http.MethodPost, "/api/entries/walk-in", gin.H{"subscriber_id": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket struct {
		Code string `json:"code"`
		Spot int64  `json:"spot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	assert.Equal(t, int64(1), ticket.Spot)
	require.NotEmpty(t, ticket.Code)

	// A stranger's exit attempt is denied.
	w = do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/exit", ticket.Code), gin.H{"subscriber_id": 2})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The owner's exit succeeds and is not late.
	w = do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/exit", ticket.Code), gin.H{"subscriber_id": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var exit struct {
		Late bool `json:"late"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exit))
	assert.False(t, exit.Late)

	// Reservation for tomorrow, then cancel it twice.
	start := apiBase.Add(25 * time.Hour)
	w = do(http.MethodPost, "/api/reservations", gin.H{"subscriber_id": 3, "start": start})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))

	w = do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/cancel", ticket.Code), gin.H{"subscriber_id": 3})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, fmt.Sprintf("/api/sessions/%s/cancel", ticket.Code), gin.H{"subscriber_id": 3})
	assert.Equal(t, http.StatusNotFound, w.Code)
	var failure struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	assert.Equal(t, "not_found", failure.Error)
	assert.Contains(t, failure.Reason, "already cancelled")

	// Too-short lead time is a validation failure.
	w = do(http.MethodPost, "/api/reservations", gin.H{"subscriber_id": 3, "start": apiBase.Add(time.Hour)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Availability right now: the whole lot is free again.
	w = do(http.MethodGet, "/api/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		FreeSpots      int  `json:"freeSpots"`
		MeetsThreshold bool `json:"meetsThreshold"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 10, report.FreeSpots)
	assert.True(t, report.MeetsThreshold)

	// History shows the finished walk-in for subscriber 1.
	w = do(http.MethodGet, "/api/subscribers/1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Sessions []model.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Sessions, 1)
	assert.Equal(t, model.StatusFinished, history.Sessions[0].Status)
}
