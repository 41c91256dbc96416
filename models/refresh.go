package models

import (
	"time"

	"gorm.io/gorm"
)

// RefreshMode selects which refresh strategy governs a request
type RefreshMode string

const (
	ModeScheduled RefreshMode = "scheduled"
	ModeOnDemand  RefreshMode = "on_demand"
	ModePeriodic  RefreshMode = "periodic"
	ModeLive      RefreshMode = "live"
)

// Valid reports whether the mode is one of the known refresh modes
func (m RefreshMode) Valid() bool {
	switch m {
	case ModeScheduled, ModeOnDemand, ModePeriodic, ModeLive:
		return true
	}
	return false
}

// DataType identifies a fetchable unit of data for a symbol
type DataType string

const (
	DataTypePriceHistorical DataType = "price_historical"
	DataTypePriceCurrent    DataType = "price_current"
	DataTypeFundamentals    DataType = "fundamentals"
	DataTypeIndicators      DataType = "indicators"
	DataTypeNews            DataType = "news"
	DataTypeEarnings        DataType = "earnings"
	DataTypeIndustryPeers   DataType = "industry_peers"
	DataTypeSignals         DataType = "signals"
)

// AllDataTypes lists every known data type
var AllDataTypes = []DataType{
	DataTypePriceHistorical,
	DataTypePriceCurrent,
	DataTypeFundamentals,
	DataTypeIndicators,
	DataTypeNews,
	DataTypeEarnings,
	DataTypeIndustryPeers,
	DataTypeSignals,
}

// Valid reports whether the data type is one of the known types
func (d DataType) Valid() bool {
	for _, known := range AllDataTypes {
		if d == known {
			return true
		}
	}
	return false
}

// IngestionState tracks the last refresh per (symbol, data_type).
// LastRefreshedAt only ever moves forward and only on success.
type IngestionState struct {
	Symbol          string     `gorm:"primaryKey;size:32" json:"symbol"`
	DataType        DataType   `gorm:"primaryKey;size:32" json:"data_type"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at"`
	LastStatus      string     `json:"last_status"` // success, failed
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName overrides the default table name
func (IngestionState) TableName() string {
	return "data_ingestion_state"
}

// WorkflowCheckpoint is an append-only progress marker for a long batch.
// Only the newest row per workflow is authoritative.
type WorkflowCheckpoint struct {
	ID         uint      `gorm:"primaryKey" json:"checkpoint_id"`
	WorkflowID string    `gorm:"index;not null" json:"workflow_id"`
	Stage      string    `json:"stage"`
	StateJSON  string    `gorm:"type:text" json:"state_json"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the default table name
func (WorkflowCheckpoint) TableName() string {
	return "workflow_checkpoints"
}

// DLQItem is a durably stored unrecoverable failure awaiting triage
type DLQItem struct {
	ID           uint       `gorm:"primaryKey" json:"dlq_id"`
	WorkflowID   string     `gorm:"index" json:"workflow_id"`
	Symbol       string     `gorm:"index" json:"symbol"`
	Stage        string     `gorm:"index" json:"stage"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	ErrorType    string     `json:"error_type"` // validation, gate_failed, transient, computation
	ContextJSON  string     `gorm:"type:text" json:"context_json"`
	Resolved     bool       `gorm:"default:false;index" json:"resolved"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
}

// TableName overrides the default table name
func (DLQItem) TableName() string {
	return "workflow_dlq"
}

// MigrateRefreshModels runs database migrations for refresh bookkeeping models
func MigrateRefreshModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&IngestionState{},
		&WorkflowCheckpoint{},
		&DLQItem{},
	)
}
