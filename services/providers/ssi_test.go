package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stock_data_backend/services/refresh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSSIClient(server *httptest.Server) *SSIClient {
	return &SSIClient{
		baseURL:    server.URL,
		httpClient: server.Client(),
	}
}

func TestTradingDayKeepsLocalCalendarDate(t *testing.T) {
	hcm, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	// 06:30 local is still the previous day in UTC
	morning := time.Date(2026, 3, 10, 6, 30, 0, 0, hcm)
	day := tradingDay(morning)

	assert.Equal(t, 2026, day.Year())
	assert.Equal(t, time.March, day.Month())
	assert.Equal(t, 10, day.Day())
	assert.Equal(t, 0, day.Hour())
	assert.Equal(t, hcm, day.Location())

	evening := time.Date(2026, 3, 10, 22, 0, 0, 0, hcm)
	assert.Equal(t, day, tradingDay(evening))
}

func TestFetchCurrentQuoteParsesRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/stock/symbol/VNM")
		w.Write([]byte(`{"data":[{"ss":"VNM","op":65.5,"hp":66.2,"lp":65.1,"mp":65.9,"cg":0.4,"pct":0.61,"tvol":1532000,"tval":100958800}]}`))
	}))
	defer server.Close()

	quote, err := testSSIClient(server).FetchCurrentQuote(context.Background(), "VNM")
	require.NoError(t, err)

	assert.Equal(t, "VNM", quote.Symbol)
	assert.Equal(t, "ssi", quote.Source)
	assert.Equal(t, "65.9", quote.Close.String())
	assert.Equal(t, int64(1532000), quote.Volume)

	// The quote is stamped with today's local calendar day at midnight
	now := time.Now()
	assert.Equal(t, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), quote.Date)
}

func TestFetchCurrentQuoteEmptyIsGateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	_, err := testSSIClient(server).FetchCurrentQuote(context.Background(), "XXX")
	require.Error(t, err)
	assert.Equal(t, refresh.KindGateFailed, refresh.KindOf(err))
}

func TestFetchNewsFallsBackOnBadDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"title":"Q1 results","abstract":"...","link":"https://example.com/1","publishDate":"2026-03-09T08:00:00Z"},
			{"title":"AGM notice","abstract":"...","link":"https://example.com/2","publishDate":"09/03/2026"}
		]}`))
	}))
	defer server.Close()

	articles, err := testSSIClient(server).FetchNews(context.Background(), "VNM", 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	assert.Equal(t, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), articles[0].PublishedAt.UTC())
	assert.WithinDuration(t, time.Now(), articles[1].PublishedAt, 5*time.Second)
}
