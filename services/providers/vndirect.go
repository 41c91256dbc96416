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

// VNDirectBaseURL is the VNDirect finfo API endpoint
const VNDirectBaseURL = "https://finfo-api.vndirect.com.vn/v4"

// VNDirectClient fetches historical prices, fundamentals and earnings
// from the VNDirect finfo API.
type VNDirectClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVNDirectClient creates a VNDirect client with the default endpoint
func NewVNDirectClient() *VNDirectClient {
	return &VNDirectClient{
		baseURL: VNDirectBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements refresh.ProviderClient
func (c *VNDirectClient) Name() string {
	return "vndirect"
}

// VNDirectPriceResponse represents the stock_prices API response
type VNDirectPriceResponse struct {
	Data []struct {
		Code          string  `json:"code"`
		Date          string  `json:"date"`
		Open          float64 `json:"open"`
		High          float64 `json:"high"`
		Low           float64 `json:"low"`
		Close         float64 `json:"close"`
		Volume        int64   `json:"nmVolume"`
		Value         float64 `json:"nmValue"`
		Change        float64 `json:"change"`
		ChangePercent float64 `json:"pctChange"`
	} `json:"data"`
}

// VNDirectRatioResponse represents the ratios API response
type VNDirectRatioResponse struct {
	Data []struct {
		Code       string  `json:"code"`
		Period     string  `json:"reportDate"`
		PE         float64 `json:"pe"`
		PB         float64 `json:"pb"`
		EPS        float64 `json:"eps"`
		BVPS       float64 `json:"bvps"`
		ROE        float64 `json:"roe"`
		ROA        float64 `json:"roa"`
		MarketCap  float64 `json:"marketCap"`
		SharesOut  int64   `json:"outstandingShares"`
		Week52High float64 `json:"high52Week"`
		Week52Low  float64 `json:"low52Week"`
	} `json:"data"`
}

// VNDirectIncomeResponse represents the income statements API response
type VNDirectIncomeResponse struct {
	Data []struct {
		Code      string  `json:"code"`
		Period    string  `json:"reportDate"`
		Revenue   float64 `json:"revenue"`
		NetIncome float64 `json:"netProfit"`
		EPS       float64 `json:"eps"`
	} `json:"data"`
}

// FetchPriceData fetches daily OHLCV rows within the date range
func (c *VNDirectClient) FetchPriceData(ctx context.Context, symbol string, dateRange refresh.DateRange) ([]models.StockPrice, error) {
	url := fmt.Sprintf("%s/stock_prices?sort=date&size=1000&q=code:%s~date:gte:%s~date:lte:%s",
		c.baseURL, symbol,
		dateRange.From.Format("2006-01-02"),
		dateRange.To.Format("2006-01-02"))

	var response VNDirectPriceResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	prices := make([]models.StockPrice, 0, len(response.Data))
	for _, row := range response.Data {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, refresh.Validationf("vndirect returned unparseable date %q for %s", row.Date, symbol)
		}
		prices = append(prices, models.StockPrice{
			Symbol:        symbol,
			Date:          date,
			Source:        c.Name(),
			Open:          decimal.NewFromFloat(row.Open),
			High:          decimal.NewFromFloat(row.High),
			Low:           decimal.NewFromFloat(row.Low),
			Close:         decimal.NewFromFloat(row.Close),
			Volume:        row.Volume,
			Value:         decimal.NewFromFloat(row.Value),
			Change:        decimal.NewFromFloat(row.Change),
			ChangePercent: decimal.NewFromFloat(row.ChangePercent),
		})
	}
	return prices, nil
}

// FetchCurrentQuote is not a VNDirect capability; real-time quotes come
// from SSI.
func (c *VNDirectClient) FetchCurrentQuote(ctx context.Context, symbol string) (*models.StockPrice, error) {
	return nil, refresh.Validationf("vndirect does not provide real-time quotes")
}

// FetchFundamentals fetches the latest fundamental ratios
func (c *VNDirectClient) FetchFundamentals(ctx context.Context, symbol string) (*models.Fundamental, error) {
	url := fmt.Sprintf("%s/ratios/latest?filter=ratioCode:PRICE_TO_EARNINGS&where=code:%s", c.baseURL, symbol)

	var response VNDirectRatioResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, refresh.GateFailed(fmt.Errorf("no fundamental data available for %s", symbol))
	}

	row := response.Data[0]
	return &models.Fundamental{
		Symbol:     symbol,
		Period:     row.Period,
		Source:     c.Name(),
		PE:         decimal.NewFromFloat(row.PE),
		PB:         decimal.NewFromFloat(row.PB),
		EPS:        decimal.NewFromFloat(row.EPS),
		BVPS:       decimal.NewFromFloat(row.BVPS),
		ROE:        decimal.NewFromFloat(row.ROE),
		ROA:        decimal.NewFromFloat(row.ROA),
		MarketCap:  decimal.NewFromFloat(row.MarketCap),
		SharesOut:  row.SharesOut,
		Week52High: decimal.NewFromFloat(row.Week52High),
		Week52Low:  decimal.NewFromFloat(row.Week52Low),
	}, nil
}

// FetchNews is not a VNDirect capability
func (c *VNDirectClient) FetchNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	return nil, refresh.Validationf("vndirect does not provide news")
}

// FetchEarnings fetches quarterly income statements
func (c *VNDirectClient) FetchEarnings(ctx context.Context, symbol string) ([]models.EarningsResult, error) {
	url := fmt.Sprintf("%s/incomes?q=code:%s~period:QUARTER&sort=reportDate&size=8", c.baseURL, symbol)

	var response VNDirectIncomeResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	earnings := make([]models.EarningsResult, 0, len(response.Data))
	for _, row := range response.Data {
		earnings = append(earnings, models.EarningsResult{
			Symbol:    symbol,
			Period:    row.Period,
			Source:    c.Name(),
			Revenue:   decimal.NewFromFloat(row.Revenue),
			NetIncome: decimal.NewFromFloat(row.NetIncome),
			EPS:       decimal.NewFromFloat(row.EPS),
		})
	}
	return earnings, nil
}

// IsAvailable probes the API with a short timeout
func (c *VNDirectClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/stocks?size=1", nil)
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
func (c *VNDirectClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return refresh.Computation(fmt.Errorf("failed to build vndirect request: %w", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; stock-data-backend)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return refresh.Transientf("connection to vndirect failed: %v", err)
	}
	defer resp.Body.Close()

	if err := statusToError(c.Name(), resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return refresh.Transientf("failed to read vndirect response: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return refresh.Computation(fmt.Errorf("failed to parse vndirect response: %w", err))
	}
	return nil
}

// statusToError maps an HTTP status to a tagged error, nil for 2xx
func statusToError(provider string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return refresh.Transientf("%s rate limit exceeded (status 429)", provider)
	case status >= 500:
		return refresh.Transientf("%s returned status %d", provider, status)
	case status == http.StatusNotFound:
		return refresh.Validationf("%s has no data for this request (status 404)", provider)
	default:
		return refresh.Validationf("%s rejected the request (status %d)", provider, status)
	}
}
