package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/ratelimit"
	"stock_data_backend/services/recovery"
	"stock_data_backend/services/refresh"

	"github.com/gin-gonic/gin"
)

// RefreshController exposes the refresh engine over the admin API
type RefreshController struct {
	manager  *refresh.Manager
	dlq      *recovery.DeadLetterQueue
	limiters *ratelimit.Registry
}

// NewRefreshController creates a new refresh controller
func NewRefreshController(manager *refresh.Manager, dlq *recovery.DeadLetterQueue, limiters *ratelimit.Registry) *RefreshController {
	return &RefreshController{
		manager:  manager,
		dlq:      dlq,
		limiters: limiters,
	}
}

type refreshRequest struct {
	DataTypes []string `json:"data_types"`
	Mode      string   `json:"mode"`
	Force     bool     `json:"force"`
	From      string   `json:"from"`
	To        string   `json:"to"`
}

// RefreshSymbol triggers a refresh for one symbol
// POST /api/v1/refresh/:symbol
func (rc *RefreshController) RefreshSymbol(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	mode := models.RefreshMode(req.Mode)
	if req.Mode == "" {
		mode = models.ModeOnDemand
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown refresh mode: " + req.Mode})
		return
	}

	dataTypes := make([]models.DataType, 0, len(req.DataTypes))
	for _, dt := range req.DataTypes {
		dataTypes = append(dataTypes, models.DataType(dt))
	}
	if len(dataTypes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one data type is required"})
		return
	}

	dateRange, err := parseDateRange(req.From, req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := rc.manager.RefreshData(c.Request.Context(), symbol, dataTypes, mode, req.Force, dateRange)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Only total failure across every requested data type is a
	// caller-facing error; partial failure still returns the result.
	status := http.StatusOK
	if result.TotalFailed > 0 && result.TotalSuccessful == 0 && result.TotalSkipped == 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"data": result})
}

// parseDateRange builds an optional date range from query values
func parseDateRange(from, to string) (*refresh.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}

	rng := &refresh.DateRange{To: time.Now()}
	var err error
	if from != "" {
		rng.From, err = time.Parse("2006-01-02", from)
		if err != nil {
			return nil, err
		}
	}
	if to != "" {
		rng.To, err = time.Parse("2006-01-02", to)
		if err != nil {
			return nil, err
		}
	}
	return rng, nil
}

// GetRefreshCandidates lists stale symbols for a data type and mode
// GET /api/v1/refresh/candidates?data_type=price_current&mode=periodic
func (rc *RefreshController) GetRefreshCandidates(c *gin.Context) {
	dataType := models.DataType(c.Query("data_type"))
	if !dataType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown data type: " + c.Query("data_type")})
		return
	}

	mode := models.RefreshMode(c.DefaultQuery("mode", string(models.ModePeriodic)))
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown refresh mode: " + c.Query("mode")})
		return
	}

	symbols, err := rc.manager.SymbolsToRefresh(dataType, mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load refresh candidates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data_type": dataType,
		"mode":      mode,
		"count":     len(symbols),
		"symbols":   symbols,
	})
}

// GetDLQItems lists unresolved DLQ items for triage
// GET /api/v1/dlq?limit=50&stage=fundamentals
func (rc *RefreshController) GetDLQItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	stage := c.Query("stage")

	items, err := rc.dlq.GetUnresolvedItems(limit, stage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load DLQ items"})
		return
	}

	count, _ := rc.dlq.CountUnresolved()
	c.JSON(http.StatusOK, gin.H{
		"data":             items,
		"total_unresolved": count,
	})
}

// ResolveDLQItem marks one DLQ item resolved
// POST /api/v1/dlq/:id/resolve
func (rc *RefreshController) ResolveDLQItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid DLQ item id"})
		return
	}

	resolvedBy := c.GetString("username")
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	if err := rc.dlq.ResolveItem(uint(id), resolvedBy); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true, "resolved_by": resolvedBy})
}

// GetRateLimiterStats reports utilization for every provider limiter
// GET /api/v1/ratelimits
func (rc *RefreshController) GetRateLimiterStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": rc.limiters.AllStats()})
}
