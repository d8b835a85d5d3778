package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/api/analytics"
)

const (
	defaultRollupLookbackDays = 3
	maxRollupLookbackDays     = 30
)

// RollupRunner is the engine surface the trigger endpoint uses; the
// scheduled job calls the identical code path.
type RollupRunner interface {
	Refresh(ctx context.Context, from, to time.Time) error
}

// RollupHandlers exposes the protected manual rollup trigger.
type RollupHandlers struct {
	Engine       RollupRunner
	Secret       string
	Production   bool
	LookbackDays int
}

func NewRollupHandlers(engine RollupRunner, secret string, production bool, lookbackDays int) *RollupHandlers {
	if lookbackDays <= 0 {
		lookbackDays = defaultRollupLookbackDays
	}
	return &RollupHandlers{Engine: engine, Secret: secret, Production: production, LookbackDays: lookbackDays}
}

// Refresh recomputes the rollups for the requested lookback window. Guarded
// by a bearer shared secret; with no secret configured it is available only
// outside production.
func (h *RollupHandlers) Refresh(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	days := h.LookbackDays
	if param := c.Query("days"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'days' parameter. Must be a positive integer."})
			return
		}
		days = parsed
	}
	if days > maxRollupLookbackDays {
		days = maxRollupLookbackDays
	}

	to := analytics.DayStart(time.Now())
	from := to.AddDate(0, 0, -(days - 1))

	if err := h.Engine.Refresh(c.Request.Context(), from, to); err != nil {
		log.Printf("Manual rollup refresh failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rollup refresh failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refreshed_days": days,
		"from":           from.Format("2006-01-02"),
		"to":             to.Format("2006-01-02"),
	})
}

func (h *RollupHandlers) authorized(authHeader string) bool {
	if h.Secret == "" {
		return !h.Production
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) == 1
}
