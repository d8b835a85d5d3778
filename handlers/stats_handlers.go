package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/api/models"
	"inkwell/api/store"
	"inkwell/api/utils"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

// RollupReader is the dashboard's read surface over the rollup tables.
type RollupReader interface {
	TopPages(ctx context.Context, from, to time.Time, limit int) ([]store.TopPageStat, error)
	ReferrerTotals(ctx context.Context, from, to time.Time) ([]models.ReferrerRollup, error)
	DeviceTotals(ctx context.Context, from, to time.Time) ([]models.UaRollup, error)
}

// StatsHandlers serves the admin dashboard from the precomputed rollups;
// raw events are never queried on this path.
type StatsHandlers struct {
	Rollups RollupReader
}

func NewStatsHandlers(rollups RollupReader) *StatsHandlers {
	return &StatsHandlers{Rollups: rollups}
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	from, to, ok := h.dayRange(c)
	if !ok {
		return
	}

	limit := 10
	if param := c.Query("limit"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Rollups.TopPages(ctx, from, to, limit)
	if err != nil {
		log.Printf("Error getting top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve page statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetReferrers(c *gin.Context) {
	from, to, ok := h.dayRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Rollups.ReferrerTotals(ctx, from, to)
	if err != nil {
		log.Printf("Error getting referrer totals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve referrer statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetDevices(c *gin.Context) {
	from, to, ok := h.dayRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Rollups.DeviceTotals(ctx, from, to)
	if err != nil {
		log.Printf("Error getting device totals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) dayRange(c *gin.Context) (time.Time, time.Time, bool) {
	from, to, err := utils.ParseDayRange(c.Query("start"), c.Query("end"), defaultStatsDays, maxStatsDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
