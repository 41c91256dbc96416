package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stock_data_backend/models"

	"gorm.io/gorm"
)

// classified is implemented by tagged errors that carry their own
// classification (see services/refresh.FetchError).
type classified interface {
	Classification() string
}

// classifyError maps an error to a DLQ error type. Tagged errors carry
// their classification; anything else is an unexpected computation error.
func classifyError(err error) string {
	var c classified
	if errors.As(err, &c) {
		return c.Classification()
	}
	return "computation"
}

// DeadLetterQueue durably stores per-item failures that exhausted their
// retries or were classified as non-retryable. Items stay until an
// operator or re-drive job resolves them.
type DeadLetterQueue struct {
	db *gorm.DB
}

// NewDeadLetterQueue creates a DLQ on the given database
func NewDeadLetterQueue(db *gorm.DB) *DeadLetterQueue {
	return &DeadLetterQueue{db: db}
}

// AddFailedItem classifies and persists one failure. Every terminal
// failure the manager sees produces exactly one DLQ row.
func (q *DeadLetterQueue) AddFailedItem(workflowID, symbol, stage string, cause error, context map[string]interface{}) error {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}

	contextJSON := "{}"
	if len(context) > 0 {
		encoded, err := json.Marshal(context)
		if err != nil {
			return fmt.Errorf("failed to encode DLQ context: %w", err)
		}
		contextJSON = string(encoded)
	}

	item := models.DLQItem{
		WorkflowID:   workflowID,
		Symbol:       symbol,
		Stage:        stage,
		ErrorMessage: cause.Error(),
		ErrorType:    classifyError(cause),
		ContextJSON:  contextJSON,
		Resolved:     false,
		CreatedAt:    time.Now(),
	}
	if err := q.db.Create(&item).Error; err != nil {
		return fmt.Errorf("failed to store DLQ item for %s: %w", symbol, err)
	}
	return nil
}

// GetUnresolvedItems returns unresolved items for operator triage, newest
// first, optionally filtered by stage. A non-positive limit defaults to 100.
func (q *DeadLetterQueue) GetUnresolvedItems(limit int, stage string) ([]models.DLQItem, error) {
	if limit <= 0 {
		limit = 100
	}

	query := q.db.Where("resolved = ?", false)
	if stage != "" {
		query = query.Where("stage = ?", stage)
	}

	var items []models.DLQItem
	if err := query.Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load unresolved DLQ items: %w", err)
	}
	return items, nil
}

// ResolveItem marks an item resolved with an audit trail of who and when
func (q *DeadLetterQueue) ResolveItem(dlqID uint, resolvedBy string) error {
	now := time.Now()
	result := q.db.Model(&models.DLQItem{}).
		Where("id = ? AND resolved = ?", dlqID, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve DLQ item %d: %w", dlqID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("DLQ item %d not found or already resolved", dlqID)
	}
	return nil
}

// CountUnresolved returns the number of unresolved items
func (q *DeadLetterQueue) CountUnresolved() (int64, error) {
	var count int64
	if err := q.db.Model(&models.DLQItem{}).
		Where("resolved = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unresolved DLQ items: %w", err)
	}
	return count, nil
}
