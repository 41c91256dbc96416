package recovery

import (
	"encoding/json"
	"fmt"
	"time"

	"stock_data_backend/models"

	"gorm.io/gorm"
)

// Checkpoint is the decoded latest progress marker for a workflow
type Checkpoint struct {
	Stage     string                 `json:"stage"`
	State     map[string]interface{} `json:"state"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckpointStore persists resumable progress markers for long-running
// batches. Rows are append-only; only the newest row per workflow counts.
type CheckpointStore struct {
	db *gorm.DB
}

// NewCheckpointStore creates a checkpoint store on the given database
func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// SaveCheckpoint appends a new checkpoint row for the workflow
func (s *CheckpointStore) SaveCheckpoint(workflowID, stage string, state map[string]interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}

	row := models.WorkflowCheckpoint{
		WorkflowID: workflowID,
		Stage:      stage,
		StateJSON:  string(stateJSON),
		Timestamp:  time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", workflowID, err)
	}
	return nil
}

// LoadCheckpoint returns the most recent checkpoint for a workflow, or
// nil if the workflow has none.
func (s *CheckpointStore) LoadCheckpoint(workflowID string) (*Checkpoint, error) {
	var row models.WorkflowCheckpoint
	err := s.db.Where("workflow_id = ?", workflowID).
		Order("timestamp DESC, id DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", workflowID, err)
	}

	cp := &Checkpoint{
		Stage:     row.Stage,
		Timestamp: row.Timestamp,
	}
	if row.StateJSON != "" {
		if err := json.Unmarshal([]byte(row.StateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint state for %s: %w", workflowID, err)
		}
	}
	return cp, nil
}

// ClearCheckpoints deletes all checkpoint rows for a completed workflow
func (s *CheckpointStore) ClearCheckpoints(workflowID string) error {
	if err := s.db.Where("workflow_id = ?", workflowID).
		Delete(&models.WorkflowCheckpoint{}).Error; err != nil {
		return fmt.Errorf("failed to clear checkpoints for %s: %w", workflowID, err)
	}
	return nil
}
