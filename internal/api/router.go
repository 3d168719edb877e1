package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/engine"
	"parking-lot-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router over the engine's
// dispatch table. The router is the wire-transport embodiment of the
// external dispatcher: it only decodes, routes and renders.
func NewRouter(d *engine.Dispatcher, db *gorm.DB, cfg *config.ServerConfig, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(d, db, webpushOptions)

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}
	rateLimiter := mw.RateLimiter(limit, burst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	cacheStore := cache.New(ttl, 10*time.Minute)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/reservations", handler.PostReservation)
		api.POST("/entries/walk-in", handler.PostWalkIn)
		api.POST("/entries/check-in", handler.PostCheckIn)

		api.POST("/sessions/:code/exit", handler.PostExit)
		api.POST("/sessions/:code/extend", handler.PostExtend)
		api.POST("/sessions/:code/cancel", handler.PostCancel)

		api.GET("/availability", caching, handler.GetAvailability)
		api.GET("/subscribers/:id/sessions", caching, handler.GetHistory)

		api.GET("/push/subscriptions", handler.GetSubscription)
		api.PUT("/push/subscriptions", handler.PutSubscription)
		api.DELETE("/push/subscriptions", handler.DeleteSubscription)
		api.GET("/push/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
