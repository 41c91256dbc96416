package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/refresh"

	"github.com/shopspring/decimal"
)

// SSIBaseURL is the SSI iBoard query endpoint
const SSIBaseURL = "https://iboard-query.ssi.com.vn/v2"

// SSIClient fetches real-time quotes and company news from SSI iBoard
type SSIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSSIClient creates an SSI client with the default endpoint
func NewSSIClient() *SSIClient {
	return &SSIClient{
		baseURL: SSIBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name implements refresh.ProviderClient
func (c *SSIClient) Name() string {
	return "ssi"
}

// SSIQuoteResponse represents the iBoard quote response
type SSIQuoteResponse struct {
	Data []SSIQuoteData `json:"data"`
}

// SSIQuoteData represents one quote row from SSI
type SSIQuoteData struct {
	SS   string  `json:"ss"`   // Stock symbol
	OP   float64 `json:"op"`   // Open price
	HP   float64 `json:"hp"`   // Highest price
	LP   float64 `json:"lp"`   // Lowest price
	MP   float64 `json:"mp"`   // Match price (current)
	CG   float64 `json:"cg"`   // Change
	PCT  float64 `json:"pct"`  // Percent change
	TVOL float64 `json:"tvol"` // Total volume
	TVAL float64 `json:"tval"` // Total value
}

// SSINewsResponse represents the company news response
type SSINewsResponse struct {
	Data []struct {
		Title       string `json:"title"`
		Summary     string `json:"abstract"`
		URL         string `json:"link"`
		PublishedAt string `json:"publishDate"`
	} `json:"data"`
}

// FetchPriceData is not an SSI capability; history comes from VNDirect
func (c *SSIClient) FetchPriceData(ctx context.Context, symbol string, dateRange refresh.DateRange) ([]models.StockPrice, error) {
	return nil, refresh.Validationf("ssi does not provide historical prices")
}

// FetchCurrentQuote fetches the current match price for a symbol
func (c *SSIClient) FetchCurrentQuote(ctx context.Context, symbol string) (*models.StockPrice, error) {
	url := fmt.Sprintf("%s/stock/symbol/%s", c.baseURL, symbol)

	var response SSIQuoteResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, refresh.GateFailed(fmt.Errorf("no quote available for %s", symbol))
	}

	row := response.Data[0]
	today := tradingDay(time.Now())
	return &models.StockPrice{
		Symbol:        symbol,
		Date:          today,
		Source:        c.Name(),
		Open:          decimal.NewFromFloat(row.OP),
		High:          decimal.NewFromFloat(row.HP),
		Low:           decimal.NewFromFloat(row.LP),
		Close:         decimal.NewFromFloat(row.MP),
		Volume:        int64(row.TVOL),
		Value:         decimal.NewFromFloat(row.TVAL),
		Change:        decimal.NewFromFloat(row.CG),
		ChangePercent: decimal.NewFromFloat(row.PCT),
	}, nil
}

// tradingDay returns midnight of now's calendar day in its own location.
// Truncating would round in UTC and stamp early-morning quotes with
// yesterday's date.
func tradingDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// FetchFundamentals is not an SSI capability
func (c *SSIClient) FetchFundamentals(ctx context.Context, symbol string) (*models.Fundamental, error) {
	return nil, refresh.Validationf("ssi does not provide fundamentals")
}

// FetchNews fetches recent company news headlines
func (c *SSIClient) FetchNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s/news/symbol/%s?size=%d", c.baseURL, symbol, limit)

	var response SSINewsResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	articles := make([]models.NewsArticle, 0, len(response.Data))
	for _, row := range response.Data {
		publishedAt, err := time.Parse(time.RFC3339, row.PublishedAt)
		if err != nil {
			publishedAt = time.Now()
		}
		articles = append(articles, models.NewsArticle{
			Symbol:      symbol,
			URL:         row.URL,
			Source:      c.Name(),
			Title:       row.Title,
			Summary:     row.Summary,
			PublishedAt: publishedAt,
		})
	}
	return articles, nil
}

// FetchEarnings is not an SSI capability
func (c *SSIClient) FetchEarnings(ctx context.Context, symbol string) ([]models.EarningsResult, error) {
	return nil, refresh.Validationf("ssi does not provide earnings")
}

// IsAvailable probes the API with a short timeout
func (c *SSIClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/stock/exchange/hose", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// getJSON performs a GET and decodes the body, tagging failures with the
// refresh error taxonomy.
func (c *SSIClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return refresh.Computation(fmt.Errorf("failed to build ssi request: %w", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; stock-data-backend)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return refresh.Transientf("connection to ssi failed: %v", err)
	}
	defer resp.Body.Close()

	if err := statusToError(c.Name(), resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return refresh.Transientf("failed to read ssi response: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return refresh.Computation(fmt.Errorf("failed to parse ssi response: %w", err))
	}
	return nil
}
