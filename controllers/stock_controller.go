package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock_data_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StockController handles read-side stock requests
type StockController struct {
	db *gorm.DB
}

// NewStockController creates a new stock controller
func NewStockController(db *gorm.DB) *StockController {
	return &StockController{db: db}
}

// GetStocks returns list of all stocks
// GET /api/v1/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	var stocks []models.Stock

	exchange := c.Query("exchange")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := sc.db.Model(&models.Stock{})
	if exchange != "" {
		query = query.Where("exchange = ?", exchange)
	}

	var total int64
	query.Count(&total)

	if err := query.Order("symbol").Limit(limit).Offset(offset).Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stocks,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetStockPrices returns price data for a stock
// GET /api/v1/stocks/:symbol/prices
func (sc *StockController) GetStockPrices(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var stock models.Stock
	if err := sc.db.Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found"})
		return
	}

	startDate := c.DefaultQuery("start_date", time.Now().AddDate(0, -1, 0).Format("2006-01-02"))
	endDate := c.DefaultQuery("end_date", time.Now().Format("2006-01-02"))

	var prices []models.StockPrice
	err := sc.db.Where("symbol = ? AND date BETWEEN ? AND ?", symbol, startDate, endDate).
		Order("date DESC").
		Find(&prices).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch prices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  prices,
		"stock": stock,
	})
}

// GetIngestionState returns refresh freshness per data type for a symbol
// GET /api/v1/stocks/:symbol/ingestion-state
func (sc *StockController) GetIngestionState(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var states []models.IngestionState
	if err := sc.db.Where("symbol = ?", symbol).Find(&states).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch ingestion state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": states})
}
