package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock represents a listed stock symbol
type Stock struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"uniqueIndex;not null" json:"symbol"`
	Name        string          `json:"name"`
	Exchange    string          `json:"exchange"` // HOSE, HNX, UPCOM
	Industry    string          `json:"industry"`
	Sector      string          `json:"sector"`
	MarketCap   decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`
	ListingDate *time.Time      `json:"listing_date"`
	Status      string          `json:"status"` // active, delisted, suspended
	Watchlisted bool            `gorm:"default:false" json:"watchlisted"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StockPrice represents historical and real-time price data.
// Rows are unique per (symbol, date, source) so a refresh can upsert the
// same trading day repeatedly without duplicating it.
type StockPrice struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"uniqueIndex:idx_price_symbol_date_source;not null" json:"symbol"`
	Date          time.Time       `gorm:"uniqueIndex:idx_price_symbol_date_source" json:"date"`
	Source        string          `gorm:"uniqueIndex:idx_price_symbol_date_source" json:"source"` // vndirect, ssi
	Open          decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close         decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	Volume        int64           `json:"volume"`
	Value         decimal.Decimal `gorm:"type:decimal(20,2)" json:"value"`
	Change        decimal.Decimal `gorm:"type:decimal(15,2)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Fundamental stores per-period fundamental ratios for a stock
type Fundamental struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"uniqueIndex:idx_fund_symbol_period_source;not null" json:"symbol"`
	Period     string          `gorm:"uniqueIndex:idx_fund_symbol_period_source" json:"period"` // e.g. 2025Q2
	Source     string          `gorm:"uniqueIndex:idx_fund_symbol_period_source" json:"source"`
	PE         decimal.Decimal `gorm:"type:decimal(15,4)" json:"pe"`
	PB         decimal.Decimal `gorm:"type:decimal(15,4)" json:"pb"`
	EPS        decimal.Decimal `gorm:"type:decimal(15,4)" json:"eps"`
	BVPS       decimal.Decimal `gorm:"type:decimal(15,4)" json:"bvps"`
	ROE        decimal.Decimal `gorm:"type:decimal(10,4)" json:"roe"`
	ROA        decimal.Decimal `gorm:"type:decimal(10,4)" json:"roa"`
	MarketCap  decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`
	SharesOut  int64           `json:"shares_outstanding"`
	Week52High decimal.Decimal `gorm:"type:decimal(15,2)" json:"week_52_high"`
	Week52Low  decimal.Decimal `gorm:"type:decimal(15,2)" json:"week_52_low"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewsArticle stores fetched news headlines for a stock
type NewsArticle struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Symbol      string    `gorm:"uniqueIndex:idx_news_symbol_url" json:"symbol"`
	URL         string    `gorm:"uniqueIndex:idx_news_symbol_url" json:"url"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `gorm:"index" json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// EarningsResult stores reported earnings per period
type EarningsResult struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"uniqueIndex:idx_earn_symbol_period_source;not null" json:"symbol"`
	Period     string          `gorm:"uniqueIndex:idx_earn_symbol_period_source" json:"period"`
	Source     string          `gorm:"uniqueIndex:idx_earn_symbol_period_source" json:"source"`
	Revenue    decimal.Decimal `gorm:"type:decimal(20,2)" json:"revenue"`
	NetIncome  decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_income"`
	EPS        decimal.Decimal `gorm:"type:decimal(15,4)" json:"eps"`
	ReportedAt *time.Time      `json:"reported_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&StockPrice{},
		&Fundamental{},
		&NewsArticle{},
		&EarningsResult{},
	)
}
