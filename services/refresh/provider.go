package refresh

import (
	"context"
	"time"

	"stock_data_backend/models"
)

// DateRange bounds a historical price fetch
type DateRange struct {
	From time.Time
	To   time.Time
}

// ProviderClient is the narrow contract one data source exposes to the
// refresh engine. Implementations tag errors with the taxonomy in
// errors.go; the manager treats all providers uniformly through the
// retry policy.
type ProviderClient interface {
	// Name identifies the provider, used to pick its rate limiter
	Name() string
	FetchPriceData(ctx context.Context, symbol string, dateRange DateRange) ([]models.StockPrice, error)
	FetchCurrentQuote(ctx context.Context, symbol string) (*models.StockPrice, error)
	FetchFundamentals(ctx context.Context, symbol string) (*models.Fundamental, error)
	FetchNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error)
	FetchEarnings(ctx context.Context, symbol string) ([]models.EarningsResult, error)
	IsAvailable(ctx context.Context) bool
}

// ProviderResolver maps a data type to the provider client owning that
// capability. Resolution happens at call time, not at type definition.
type ProviderResolver interface {
	Resolve(dataType models.DataType) (ProviderClient, error)
}

// QuoteBroadcaster receives successfully refreshed current quotes, e.g.
// a websocket hub pushing them to subscribed dashboards.
type QuoteBroadcaster interface {
	BroadcastQuote(price models.StockPrice)
}

// PriceMirror receives successfully refreshed historical prices for
// secondary storage, e.g. the optional Mongo backup.
type PriceMirror interface {
	MirrorPrices(ctx context.Context, symbol string, prices []models.StockPrice) error
}
