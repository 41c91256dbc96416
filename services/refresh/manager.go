package refresh

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/ratelimit"
	"stock_data_backend/services/recovery"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OperationStatus is the terminal outcome of one data-type refresh
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusFailed  OperationStatus = "failed"
	StatusSkipped OperationStatus = "skipped"
)

// Operation records the outcome of refreshing one data type. Duration
// is a formatted time.Duration string; raw nanoseconds are useless in an
// API response.
type Operation struct {
	DataType        models.DataType `json:"data_type"`
	Status          OperationStatus `json:"status"`
	Error           string          `json:"error,omitempty"`
	RecordsAffected int             `json:"records_affected"`
	Attempts        int             `json:"attempts"`
	Duration        string          `json:"duration"`
}

// BatchResult aggregates the per-data-type outcomes of one refresh call
type BatchResult struct {
	Symbol          string                             `json:"symbol"`
	TotalSuccessful int                                `json:"total_successful"`
	TotalFailed     int                                `json:"total_failed"`
	TotalSkipped    int                                `json:"total_skipped"`
	Results         map[models.DataType]Operation      `json:"results"`
}

// UniverseResult aggregates a multi-symbol batch run
type UniverseResult struct {
	WorkflowID       string   `json:"workflow_id"`
	SymbolsProcessed int      `json:"symbols_processed"`
	SymbolsSkipped   int      `json:"symbols_resumed_past"`
	TotalSuccessful  int      `json:"total_successful"`
	TotalFailed      int      `json:"total_failed"`
	TotalSkipped     int      `json:"total_skipped"`
	FailedSymbols    []string `json:"failed_symbols,omitempty"`
	Resumed          bool     `json:"resumed"`
}

// Deps are the collaborators the manager is constructed with once at
// process start. No lazily initialized globals; everything is injected.
type Deps struct {
	DB          *gorm.DB
	Strategies  *StrategySet
	Limiters    *ratelimit.Registry
	Retry       RetryPolicy
	Checkpoints *recovery.CheckpointStore
	DLQ         *recovery.DeadLetterQueue
	Providers   ProviderResolver

	// Optional collaborators
	Broadcaster QuoteBroadcaster
	Mirror      PriceMirror

	// AcquireTimeout bounds how long one attempt waits on a provider
	// rate limiter. Zero defaults to 30s.
	AcquireTimeout time.Duration
}

// Manager orchestrates data refreshes: it consults the strategy for the
// request mode, admits calls through the per-provider rate limiter, runs
// the provider fetch under the retry policy, upserts results, advances
// ingestion state and routes unrecoverable failures to the DLQ.
type Manager struct {
	db             *gorm.DB
	strategies     *StrategySet
	limiters       *ratelimit.Registry
	retry          RetryPolicy
	checkpoints    *recovery.CheckpointStore
	dlq            *recovery.DeadLetterQueue
	providers      ProviderResolver
	broadcaster    QuoteBroadcaster
	mirror         PriceMirror
	acquireTimeout time.Duration
	newsLimit      int
}

// NewManager wires a manager from its dependencies
func NewManager(deps Deps) *Manager {
	timeout := deps.AcquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		db:             deps.DB,
		strategies:     deps.Strategies,
		limiters:       deps.Limiters,
		retry:          deps.Retry,
		checkpoints:    deps.Checkpoints,
		dlq:            deps.DLQ,
		providers:      deps.Providers,
		broadcaster:    deps.Broadcaster,
		mirror:         deps.Mirror,
		acquireTimeout: timeout,
		newsLimit:      20,
	}
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// RefreshData refreshes the requested data types for one symbol. Data
// types are processed independently; one failure never aborts the rest.
func (m *Manager) RefreshData(ctx context.Context, symbol string, dataTypes []models.DataType, mode models.RefreshMode, force bool, dateRange *DateRange) (*BatchResult, error) {
	strategy, err := m.strategies.ForMode(mode)
	if err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("refresh_%s", mode)
	return m.refresh(ctx, workflowID, symbol, dataTypes, strategy, mode, force, dateRange), nil
}

func (m *Manager) refresh(ctx context.Context, workflowID, symbol string, dataTypes []models.DataType, strategy RefreshStrategy, mode models.RefreshMode, force bool, dateRange *DateRange) *BatchResult {
	result := &BatchResult{
		Symbol:  symbol,
		Results: make(map[models.DataType]Operation, len(dataTypes)),
	}

	for _, dataType := range dataTypes {
		op := m.refreshOne(ctx, workflowID, symbol, dataType, strategy, mode, force, dateRange)
		result.Results[dataType] = op
		switch op.Status {
		case StatusSuccess:
			result.TotalSuccessful++
		case StatusFailed:
			result.TotalFailed++
		case StatusSkipped:
			result.TotalSkipped++
		}
	}
	return result
}

// refreshOne runs the full pipeline for a single (symbol, data type) pair
func (m *Manager) refreshOne(ctx context.Context, workflowID, symbol string, dataType models.DataType, strategy RefreshStrategy, mode models.RefreshMode, force bool, dateRange *DateRange) Operation {
	start := time.Now()
	op := Operation{DataType: dataType}

	fail := func(cause error, attempts int) Operation {
		cause = Classify(cause)
		m.recordFailure(workflowID, symbol, dataType, mode, cause, attempts)
		op.Status = StatusFailed
		op.Error = cause.Error()
		op.Attempts = attempts
		op.Duration = time.Since(start).String()
		return op
	}

	if !symbolPattern.MatchString(symbol) {
		return fail(Validationf("malformed symbol %q", symbol), 0)
	}
	if !dataType.Valid() {
		return fail(Validationf("unsupported data type %q", dataType), 0)
	}

	lastRefresh := m.lastRefreshedAt(symbol, dataType)
	if !force && !strategy.ShouldRefresh(symbol, dataType, lastRefresh) {
		op.Status = StatusSkipped
		op.Duration = time.Since(start).String()
		return op
	}

	client, err := m.providers.Resolve(dataType)
	if err != nil {
		return fail(err, 0)
	}

	retryCount := 0
	for {
		records, fetchErr := m.fetchAndPersist(ctx, client, symbol, dataType, dateRange)
		if fetchErr == nil {
			m.advanceIngestionState(symbol, dataType)
			op.Status = StatusSuccess
			op.RecordsAffected = records
			op.Attempts = retryCount + 1
			op.Duration = time.Since(start).String()
			return op
		}

		fetchErr = Classify(fetchErr)
		if !m.retry.ShouldRetry(fetchErr, retryCount) {
			return fail(fetchErr, retryCount+1)
		}

		log.Printf("Retrying %s/%s after attempt %d: %v", symbol, dataType, retryCount+1, fetchErr)
		if waitErr := m.retry.WaitForRetry(ctx, retryCount); waitErr != nil {
			return fail(Transientf("refresh aborted during backoff: %v", waitErr), retryCount+1)
		}
		retryCount++
	}
}

// fetchAndPersist acquires the provider's rate-limiter slot, performs the
// fetch for the data type and upserts the payload. Returns the number of
// records affected.
func (m *Manager) fetchAndPersist(ctx context.Context, client ProviderClient, symbol string, dataType models.DataType, dateRange *DateRange) (int, error) {
	if limiter := m.limiters.Get(client.Name()); limiter != nil {
		acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
		err := limiter.AcquireContext(acquireCtx)
		cancel()
		if err != nil {
			return 0, Transientf("rate limit slot for %s not acquired: %v", client.Name(), err)
		}
	}

	switch dataType {
	case models.DataTypePriceHistorical:
		rng := m.effectiveRange(dateRange)
		prices, err := client.FetchPriceData(ctx, symbol, rng)
		if err != nil {
			return 0, err
		}
		if err := m.upsertPrices(prices); err != nil {
			return 0, Computation(err)
		}
		if m.mirror != nil && len(prices) > 0 {
			if err := m.mirror.MirrorPrices(ctx, symbol, prices); err != nil {
				log.Printf("Price mirror failed for %s: %v", symbol, err)
			}
		}
		return len(prices), nil

	case models.DataTypePriceCurrent:
		quote, err := client.FetchCurrentQuote(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if err := m.upsertPrices([]models.StockPrice{*quote}); err != nil {
			return 0, Computation(err)
		}
		if m.broadcaster != nil {
			m.broadcaster.BroadcastQuote(*quote)
		}
		return 1, nil

	case models.DataTypeFundamentals:
		record, err := client.FetchFundamentals(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if err := m.upsertFundamental(record); err != nil {
			return 0, Computation(err)
		}
		return 1, nil

	case models.DataTypeNews:
		articles, err := client.FetchNews(ctx, symbol, m.newsLimit)
		if err != nil {
			return 0, err
		}
		if err := m.upsertNews(articles); err != nil {
			return 0, Computation(err)
		}
		return len(articles), nil

	case models.DataTypeEarnings:
		earnings, err := client.FetchEarnings(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if err := m.upsertEarnings(earnings); err != nil {
			return 0, Computation(err)
		}
		return len(earnings), nil
	}

	return 0, Validationf("no fetch operation for data type %q", dataType)
}

// effectiveRange defaults an absent date range to the trailing year
func (m *Manager) effectiveRange(dateRange *DateRange) DateRange {
	if dateRange != nil {
		return *dateRange
	}
	now := time.Now()
	return DateRange{From: now.AddDate(-1, 0, 0), To: now}
}

func (m *Manager) upsertPrices(prices []models.StockPrice) error {
	for i := range prices {
		err := m.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "date"}, {Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume", "value",
				"change", "change_percent", "updated_at",
			}),
		}).Create(&prices[i]).Error
		if err != nil {
			return fmt.Errorf("failed to upsert price for %s on %s: %w",
				prices[i].Symbol, prices[i].Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

func (m *Manager) upsertFundamental(record *models.Fundamental) error {
	err := m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "period"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pe", "pb", "eps", "bvps", "roe", "roa", "market_cap",
			"shares_out", "week52_high", "week52_low", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert fundamentals for %s: %w", record.Symbol, err)
	}
	return nil
}

func (m *Manager) upsertNews(articles []models.NewsArticle) error {
	for i := range articles {
		err := m.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "url"}},
			DoNothing: true,
		}).Create(&articles[i]).Error
		if err != nil {
			return fmt.Errorf("failed to upsert news for %s: %w", articles[i].Symbol, err)
		}
	}
	return nil
}

func (m *Manager) upsertEarnings(earnings []models.EarningsResult) error {
	for i := range earnings {
		err := m.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "period"}, {Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"revenue", "net_income", "eps", "reported_at", "updated_at",
			}),
		}).Create(&earnings[i]).Error
		if err != nil {
			return fmt.Errorf("failed to upsert earnings for %s: %w", earnings[i].Symbol, err)
		}
	}
	return nil
}

// lastRefreshedAt reads the ingestion state timestamp, nil when the pair
// has never been refreshed.
func (m *Manager) lastRefreshedAt(symbol string, dataType models.DataType) *time.Time {
	var state models.IngestionState
	err := m.db.Where("symbol = ? AND data_type = ?", symbol, dataType).First(&state).Error
	if err != nil {
		return nil
	}
	return state.LastRefreshedAt
}

// advanceIngestionState moves last_refreshed_at forward after a success.
// Concurrent writers are safe: the upsert is keyed per (symbol, data_type)
// and always assigns the current time, so the timestamp never regresses.
func (m *Manager) advanceIngestionState(symbol string, dataType models.DataType) {
	now := time.Now()
	err := m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "data_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_refreshed_at": now,
			"last_status":       "success",
			"updated_at":        now,
		}),
	}).Create(&models.IngestionState{
		Symbol:          symbol,
		DataType:        dataType,
		LastRefreshedAt: &now,
		LastStatus:      "success",
	}).Error
	if err != nil {
		log.Printf("Failed to advance ingestion state for %s/%s: %v", symbol, dataType, err)
	}
}

// recordFailure persists the DLQ item and marks the ingestion state
// failed. A failed attempt never advances last_refreshed_at.
func (m *Manager) recordFailure(workflowID, symbol string, dataType models.DataType, mode models.RefreshMode, cause error, attempts int) {
	err := m.dlq.AddFailedItem(workflowID, symbol, string(dataType), cause, map[string]interface{}{
		"data_type": string(dataType),
		"mode":      string(mode),
		"attempts":  attempts,
	})
	if err != nil {
		log.Printf("Failed to store DLQ item for %s/%s: %v", symbol, dataType, err)
	}

	now := time.Now()
	err = m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "data_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_status": "failed",
			"updated_at":  now,
		}),
	}).Create(&models.IngestionState{
		Symbol:     symbol,
		DataType:   dataType,
		LastStatus: "failed",
	}).Error
	if err != nil {
		log.Printf("Failed to mark ingestion state failed for %s/%s: %v", symbol, dataType, err)
	}
}

// symbolStaleness pairs a symbol with its last refresh for sorting
type symbolStaleness struct {
	Symbol          string
	LastRefreshedAt *time.Time
}

// SymbolsToRefresh returns the active symbols whose (symbol, dataType)
// state is stale under the strategy for mode, most urgent first. Supports
// capacity-constrained batch runs that must prioritize under a budget.
func (m *Manager) SymbolsToRefresh(dataType models.DataType, mode models.RefreshMode) ([]string, error) {
	strategy, err := m.strategies.ForMode(mode)
	if err != nil {
		return nil, err
	}

	var rows []symbolStaleness
	err = m.db.Table("stocks").
		Select("stocks.symbol AS symbol, s.last_refreshed_at AS last_refreshed_at").
		Joins("LEFT JOIN data_ingestion_state s ON s.symbol = stocks.symbol AND s.data_type = ?", dataType).
		Where("stocks.status = ?", "active").
		Order("stocks.symbol").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh candidates: %w", err)
	}

	due := make([]symbolStaleness, 0, len(rows))
	for _, row := range rows {
		if strategy.ShouldRefresh(row.Symbol, dataType, row.LastRefreshedAt) {
			due = append(due, row)
		}
	}

	// Priority is constant per data type under one strategy, so stalest
	// first is the tiebreak; never-refreshed symbols lead.
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastRefreshedAt, due[j].LastRefreshedAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})

	symbols := make([]string, len(due))
	for i, row := range due {
		symbols[i] = row.Symbol
	}
	return symbols, nil
}

// RefreshUniverse refreshes the given data types for every active symbol,
// checkpointing after each symbol so an interrupted run resumes where it
// stopped instead of restarting at symbol one.
func (m *Manager) RefreshUniverse(ctx context.Context, workflowID string, dataTypes []models.DataType, mode models.RefreshMode, force bool) (*UniverseResult, error) {
	strategy, err := m.strategies.ForMode(mode)
	if err != nil {
		return nil, err
	}

	var symbols []string
	err = m.db.Model(&models.Stock{}).
		Where("status = ?", "active").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol universe: %w", err)
	}

	result := &UniverseResult{WorkflowID: workflowID}

	startIndex := 0
	checkpoint, err := m.checkpoints.LoadCheckpoint(workflowID)
	if err != nil {
		log.Printf("Checkpoint load failed for %s, starting from scratch: %v", workflowID, err)
	} else if checkpoint != nil {
		if next, ok := checkpoint.State["next_index"].(float64); ok && int(next) <= len(symbols) {
			startIndex = int(next)
			result.Resumed = true
			result.SymbolsSkipped = startIndex
			log.Printf("Resuming workflow %s from symbol %d/%d", workflowID, startIndex, len(symbols))
		}
	}

	for i := startIndex; i < len(symbols); i++ {
		if ctx.Err() != nil {
			return result, fmt.Errorf("workflow %s interrupted: %w", workflowID, ctx.Err())
		}

		symbol := symbols[i]
		batch := m.refresh(ctx, workflowID, symbol, dataTypes, strategy, mode, force, nil)
		result.SymbolsProcessed++
		result.TotalSuccessful += batch.TotalSuccessful
		result.TotalFailed += batch.TotalFailed
		result.TotalSkipped += batch.TotalSkipped
		if batch.TotalFailed > 0 {
			result.FailedSymbols = append(result.FailedSymbols, symbol)
		}

		err := m.checkpoints.SaveCheckpoint(workflowID, "symbol_completed", map[string]interface{}{
			"last_symbol": symbol,
			"next_index":  i + 1,
			"total":       len(symbols),
		})
		if err != nil {
			log.Printf("Checkpoint save failed for %s at %s: %v", workflowID, symbol, err)
		}
	}

	if err := m.checkpoints.ClearCheckpoints(workflowID); err != nil {
		log.Printf("Failed to clear checkpoints for %s: %v", workflowID, err)
	}
	return result, nil
}
