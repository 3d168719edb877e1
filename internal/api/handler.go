package api

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"parking-lot-backend/internal/engine"
)

// Handler holds shared dependencies for API handlers. It contains no
// business logic; every operation goes through the engine's dispatch
// table.
type Handler struct {
	dispatch *engine.Dispatcher
	db       *gorm.DB
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(d *engine.Dispatcher, db *gorm.DB, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		dispatch: d,
		db:       db,
		webpush:  webpushOptions,
	}
}

// statusForKind maps the engine error taxonomy onto HTTP statuses.
func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindCapacity, engine.KindLotFull, engine.KindConflict,
		engine.KindAlreadyExtended, engine.KindAlreadyActive, engine.KindExpired:
		return http.StatusConflict
	case engine.KindOwnership:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindPoolTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders an engine error as {error, reason}. Persistence details
// never leak to the client; they are already logged with context.
func fail(c *gin.Context, err error) {
	kind := engine.KindOf(err)
	reason := engine.ReasonOf(err)
	if kind == engine.KindPersistence {
		reason = "operation failed"
	}
	c.AbortWithStatusJSON(statusForKind(kind), gin.H{
		"error":  string(kind),
		"reason": reason,
	})
}
