package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/ratelimit"
	"stock_data_backend/services/recovery"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubClient is a scriptable provider for exercising the manager pipeline
type stubClient struct {
	name       string
	quoteFn    func(symbol string) (*models.StockPrice, error)
	pricesFn   func(symbol string) ([]models.StockPrice, error)
	fundFn     func(symbol string) (*models.Fundamental, error)
	newsFn     func(symbol string) ([]models.NewsArticle, error)
	earningsFn func(symbol string) ([]models.EarningsResult, error)

	mu    sync.Mutex
	calls map[string]int
}

func newStubClient() *stubClient {
	return &stubClient{name: "stub", calls: make(map[string]int)}
}

func (c *stubClient) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

func (c *stubClient) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) FetchPriceData(ctx context.Context, symbol string, dateRange DateRange) ([]models.StockPrice, error) {
	c.record("prices")
	if c.pricesFn != nil {
		return c.pricesFn(symbol)
	}
	return []models.StockPrice{testPrice(symbol, time.Now().AddDate(0, 0, -1))}, nil
}

func (c *stubClient) FetchCurrentQuote(ctx context.Context, symbol string) (*models.StockPrice, error) {
	c.record("quote")
	if c.quoteFn != nil {
		return c.quoteFn(symbol)
	}
	p := testPrice(symbol, time.Now())
	return &p, nil
}

func (c *stubClient) FetchFundamentals(ctx context.Context, symbol string) (*models.Fundamental, error) {
	c.record("fundamentals")
	if c.fundFn != nil {
		return c.fundFn(symbol)
	}
	return &models.Fundamental{Symbol: symbol, Period: "2026Q1", Source: c.name}, nil
}

func (c *stubClient) FetchNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	c.record("news")
	if c.newsFn != nil {
		return c.newsFn(symbol)
	}
	return []models.NewsArticle{{Symbol: symbol, URL: "https://example.com/" + symbol, Source: c.name, PublishedAt: time.Now()}}, nil
}

func (c *stubClient) FetchEarnings(ctx context.Context, symbol string) ([]models.EarningsResult, error) {
	c.record("earnings")
	if c.earningsFn != nil {
		return c.earningsFn(symbol)
	}
	return []models.EarningsResult{{Symbol: symbol, Period: "2026Q1", Source: c.name}}, nil
}

func (c *stubClient) IsAvailable(ctx context.Context) bool { return true }

// stubResolver routes every data type to one client
type stubResolver struct {
	client ProviderClient
}

func (r stubResolver) Resolve(dataType models.DataType) (ProviderClient, error) {
	return r.client, nil
}

// captureBroadcaster records quotes pushed by the manager
type captureBroadcaster struct {
	mu     sync.Mutex
	quotes []models.StockPrice
}

func (b *captureBroadcaster) BroadcastQuote(price models.StockPrice) {
	b.mu.Lock()
	b.quotes = append(b.quotes, price)
	b.mu.Unlock()
}

func testPrice(symbol string, date time.Time) models.StockPrice {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return models.StockPrice{
		Symbol: symbol,
		Date:   day,
		Source: "stub",
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(105),
		Low:    decimal.NewFromInt(99),
		Close:  decimal.NewFromInt(102),
		Volume: 10000,
	}
}

func newManagerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateStockModels(db))
	require.NoError(t, models.MigrateRefreshModels(db))
	return db
}

func newTestManager(t *testing.T, db *gorm.DB, client ProviderClient) (*Manager, *captureBroadcaster) {
	t.Helper()
	strategies, err := NewStrategySet("01:00", nil, time.Minute)
	require.NoError(t, err)

	broadcaster := &captureBroadcaster{}
	manager := NewManager(Deps{
		DB:         db,
		Strategies: strategies,
		Limiters:   ratelimit.NewRegistry(),
		Retry: RetryPolicy{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
		Checkpoints: recovery.NewCheckpointStore(db),
		DLQ:         recovery.NewDeadLetterQueue(db),
		Providers:   stubResolver{client: client},
		Broadcaster: broadcaster,
	})
	return manager, broadcaster
}

func seedStock(t *testing.T, db *gorm.DB, symbol string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Stock{Symbol: symbol, Exchange: "HOSE", Status: "active"}).Error)
}

func TestRefreshDataMixedOutcome(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	client.fundFn = func(symbol string) (*models.Fundamental, error) {
		return nil, Transientf("connection reset by peer")
	}
	manager, broadcaster := newTestManager(t, db, client)
	seedStock(t, db, "VNM")

	result, err := manager.RefreshData(context.Background(), "VNM",
		[]models.DataType{models.DataTypePriceCurrent, models.DataTypeFundamentals},
		models.ModeOnDemand, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalSuccessful)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, 0, result.TotalSkipped)

	quote := result.Results[models.DataTypePriceCurrent]
	assert.Equal(t, StatusSuccess, quote.Status)
	assert.Equal(t, 1, quote.RecordsAffected)
	assert.Equal(t, 1, quote.Attempts)

	// Durations are reported as formatted strings, not nanosecond counts
	_, err = time.ParseDuration(quote.Duration)
	assert.NoError(t, err)

	// Transient failure burns the full retry budget before failing
	fund := result.Results[models.DataTypeFundamentals]
	assert.Equal(t, StatusFailed, fund.Status)
	assert.Equal(t, 3, fund.Attempts)
	assert.Equal(t, 3, client.callCount("fundamentals"))

	// Exactly one DLQ item, classified transient
	var items []models.DLQItem
	require.NoError(t, db.Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "VNM", items[0].Symbol)
	assert.Equal(t, "transient", items[0].ErrorType)
	assert.Equal(t, "refresh_on_demand", items[0].WorkflowID)

	// Success advanced ingestion state; failure did not
	var states []models.IngestionState
	require.NoError(t, db.Order("data_type").Find(&states).Error)
	require.Len(t, states, 2)
	for _, state := range states {
		switch state.DataType {
		case models.DataTypePriceCurrent:
			assert.Equal(t, "success", state.LastStatus)
			assert.NotNil(t, state.LastRefreshedAt)
		case models.DataTypeFundamentals:
			assert.Equal(t, "failed", state.LastStatus)
			assert.Nil(t, state.LastRefreshedAt)
		}
	}

	// The fresh quote was pushed to the live stream
	require.Len(t, broadcaster.quotes, 1)
	assert.Equal(t, "VNM", broadcaster.quotes[0].Symbol)
}

func TestRefreshDataSecondCallSkipsFreshData(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	manager, _ := newTestManager(t, db, client)
	seedStock(t, db, "FPT")

	types := []models.DataType{models.DataTypePriceCurrent}

	first, err := manager.RefreshData(context.Background(), "FPT", types, models.ModePeriodic, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalSuccessful)

	// Within the periodic interval the pair is fresh
	second, err := manager.RefreshData(context.Background(), "FPT", types, models.ModePeriodic, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.TotalSkipped)
	assert.Equal(t, 1, client.callCount("quote"))

	// force bypasses the staleness check
	third, err := manager.RefreshData(context.Background(), "FPT", types, models.ModePeriodic, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, third.TotalSuccessful)
	assert.Equal(t, 2, client.callCount("quote"))

	// The repeated upsert did not duplicate the price row
	var count int64
	require.NoError(t, db.Model(&models.StockPrice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRefreshDataRejectsMalformedInput(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	manager, _ := newTestManager(t, db, client)

	result, err := manager.RefreshData(context.Background(), "bad symbol!",
		[]models.DataType{models.DataTypePriceCurrent}, models.ModeOnDemand, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, 0, client.callCount("quote"))

	result, err = manager.RefreshData(context.Background(), "VNM",
		[]models.DataType{models.DataType("options_chain")}, models.ModeOnDemand, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalFailed)

	// Validation failures go straight to the DLQ without retries
	var items []models.DLQItem
	require.NoError(t, db.Find(&items).Error)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "validation", item.ErrorType)
	}

	_, err = manager.RefreshData(context.Background(), "VNM",
		[]models.DataType{models.DataTypePriceCurrent}, models.RefreshMode("bulk"), false, nil)
	assert.Error(t, err)
}

func TestRefreshDataGateFailureNotRetried(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	client.fundFn = func(symbol string) (*models.Fundamental, error) {
		return nil, GateFailed(Validationf("no fundamentals published for %s", symbol))
	}
	manager, _ := newTestManager(t, db, client)

	result, err := manager.RefreshData(context.Background(), "HPG",
		[]models.DataType{models.DataTypeFundamentals}, models.ModeOnDemand, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, 1, client.callCount("fundamentals"))

	var items []models.DLQItem
	require.NoError(t, db.Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "gate_failed", items[0].ErrorType)
}

func TestSymbolsToRefreshStalestFirst(t *testing.T) {
	db := newManagerTestDB(t)
	manager, _ := newTestManager(t, db, newStubClient())

	for _, symbol := range []string{"AAA", "BBB", "CCC", "DDD"} {
		seedStock(t, db, symbol)
	}
	require.NoError(t, db.Create(&models.Stock{Symbol: "EEE", Status: "delisted"}).Error)

	old := time.Now().Add(-3 * time.Hour)
	older := time.Now().Add(-6 * time.Hour)
	fresh := time.Now().Add(-10 * time.Second)
	for symbol, ts := range map[string]*time.Time{"AAA": &old, "BBB": &older, "CCC": &fresh} {
		require.NoError(t, db.Create(&models.IngestionState{
			Symbol: symbol, DataType: models.DataTypePriceCurrent,
			LastRefreshedAt: ts, LastStatus: "success",
		}).Error)
	}

	symbols, err := manager.SymbolsToRefresh(models.DataTypePriceCurrent, models.ModeLive)
	require.NoError(t, err)

	// Never-refreshed DDD leads, then stalest to freshest; CCC is within
	// the live max age and EEE is not active.
	assert.Equal(t, []string{"DDD", "BBB", "AAA"}, symbols)
}

func TestRefreshUniverseCheckpointsAndResumes(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	manager, _ := newTestManager(t, db, client)

	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		seedStock(t, db, symbol)
	}

	// A prior interrupted run completed the first two symbols
	checkpoints := recovery.NewCheckpointStore(db)
	require.NoError(t, checkpoints.SaveCheckpoint("scheduled_2026-03-10", "symbol_completed", map[string]interface{}{
		"last_symbol": "BBB",
		"next_index":  2,
		"total":       3,
	}))

	result, err := manager.RefreshUniverse(context.Background(), "scheduled_2026-03-10",
		[]models.DataType{models.DataTypePriceHistorical}, models.ModeScheduled, false)
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, 2, result.SymbolsSkipped)
	assert.Equal(t, 1, result.SymbolsProcessed)
	assert.Equal(t, 1, result.TotalSuccessful)
	assert.Equal(t, 1, client.callCount("prices"))

	// A completed run leaves no checkpoints behind
	cp, err := checkpoints.LoadCheckpoint("scheduled_2026-03-10")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRefreshUniverseStopsOnCancel(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	manager, _ := newTestManager(t, db, client)

	for _, symbol := range []string{"AAA", "BBB"} {
		seedStock(t, db, symbol)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := manager.RefreshUniverse(ctx, "scheduled_2026-03-11",
		[]models.DataType{models.DataTypePriceHistorical}, models.ModeScheduled, false)
	require.Error(t, err)
	assert.Equal(t, 0, result.SymbolsProcessed)
	assert.Equal(t, 0, client.callCount("prices"))
}

func TestRefreshUniverseRecordsFailedSymbols(t *testing.T) {
	db := newManagerTestDB(t)
	client := newStubClient()
	client.pricesFn = func(symbol string) ([]models.StockPrice, error) {
		if symbol == "BBB" {
			return nil, Computation(assert.AnError)
		}
		return []models.StockPrice{testPrice(symbol, time.Now().AddDate(0, 0, -1))}, nil
	}
	manager, _ := newTestManager(t, db, client)

	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		seedStock(t, db, symbol)
	}

	result, err := manager.RefreshUniverse(context.Background(), "scheduled_2026-03-12",
		[]models.DataType{models.DataTypePriceHistorical}, models.ModeScheduled, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.SymbolsProcessed)
	assert.Equal(t, 2, result.TotalSuccessful)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, []string{"BBB"}, result.FailedSymbols)
}
