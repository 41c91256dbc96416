package recovery_test

import (
	"errors"
	"testing"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/recovery"
	"stock_data_backend/services/refresh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateRefreshModels(db))
	return db
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := recovery.NewCheckpointStore(newTestDB(t))

	require.NoError(t, store.SaveCheckpoint("scheduled_2026-03-10", "symbol_completed", map[string]interface{}{
		"last_symbol": "VNM",
		"next_index":  float64(12),
	}))

	cp, err := store.LoadCheckpoint("scheduled_2026-03-10")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "symbol_completed", cp.Stage)
	assert.Equal(t, "VNM", cp.State["last_symbol"])
	assert.Equal(t, float64(12), cp.State["next_index"])
	assert.WithinDuration(t, time.Now(), cp.Timestamp, 5*time.Second)
}

func TestLoadCheckpointReturnsNewest(t *testing.T) {
	store := recovery.NewCheckpointStore(newTestDB(t))

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.SaveCheckpoint("wf", "symbol_completed", map[string]interface{}{
			"next_index": float64(i),
		}))
	}

	cp, err := store.LoadCheckpoint("wf")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, float64(3), cp.State["next_index"])
}

func TestLoadCheckpointMissingWorkflow(t *testing.T) {
	store := recovery.NewCheckpointStore(newTestDB(t))

	cp, err := store.LoadCheckpoint("never_ran")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestClearCheckpointsOnlyTargetsWorkflow(t *testing.T) {
	store := recovery.NewCheckpointStore(newTestDB(t))

	require.NoError(t, store.SaveCheckpoint("wf_a", "symbol_completed", nil))
	require.NoError(t, store.SaveCheckpoint("wf_b", "symbol_completed", nil))

	require.NoError(t, store.ClearCheckpoints("wf_a"))

	cp, err := store.LoadCheckpoint("wf_a")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = store.LoadCheckpoint("wf_b")
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestDLQAddAndTriage(t *testing.T) {
	dlq := recovery.NewDeadLetterQueue(newTestDB(t))

	cause := refresh.Transientf("dial tcp: i/o timeout")
	require.NoError(t, dlq.AddFailedItem("refresh_on_demand", "VNM", "fetch", cause, map[string]interface{}{
		"data_type":   "price_current",
		"retry_count": 3,
	}))
	require.NoError(t, dlq.AddFailedItem("refresh_on_demand", "FPT", "persist", errors.New("nil row"), nil))

	items, err := dlq.GetUnresolvedItems(10, "")
	require.NoError(t, err)
	require.Len(t, items, 2)

	count, err := dlq.CountUnresolved()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Stage filter
	items, err = dlq.GetUnresolvedItems(10, "fetch")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "VNM", items[0].Symbol)
	assert.Equal(t, "transient", items[0].ErrorType)
	assert.Contains(t, items[0].ContextJSON, "price_current")

	// Untagged errors land as computation
	items, err = dlq.GetUnresolvedItems(10, "persist")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "computation", items[0].ErrorType)
}

func TestAddFailedItemNilCause(t *testing.T) {
	dlq := recovery.NewDeadLetterQueue(newTestDB(t))

	require.NoError(t, dlq.AddFailedItem("wf", "VNM", "fetch", nil, nil))

	items, err := dlq.GetUnresolvedItems(1, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "computation", items[0].ErrorType)
	assert.Equal(t, "unspecified failure", items[0].ErrorMessage)
}

func TestResolveItem(t *testing.T) {
	db := newTestDB(t)
	dlq := recovery.NewDeadLetterQueue(db)

	require.NoError(t, dlq.AddFailedItem("wf", "HPG", "fetch", refresh.GateFailed(errors.New("no data published")), nil))

	items, err := dlq.GetUnresolvedItems(1, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "gate_failed", items[0].ErrorType)

	require.NoError(t, dlq.ResolveItem(items[0].ID, "an.operator"))

	// Resolved items leave the triage view
	items, err = dlq.GetUnresolvedItems(10, "")
	require.NoError(t, err)
	assert.Empty(t, items)

	var row models.DLQItem
	require.NoError(t, db.First(&row).Error)
	assert.True(t, row.Resolved)
	assert.Equal(t, "an.operator", row.ResolvedBy)
	require.NotNil(t, row.ResolvedAt)

	// Double resolve is rejected
	err = dlq.ResolveItem(row.ID, "an.operator")
	assert.Error(t, err)

	// Unknown ID is rejected
	err = dlq.ResolveItem(99999, "an.operator")
	assert.Error(t, err)
}
