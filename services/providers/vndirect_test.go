package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stock_data_backend/models"
	"stock_data_backend/services/refresh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVNDirectClient(server *httptest.Server) *VNDirectClient {
	return &VNDirectClient{
		baseURL:    server.URL,
		httpClient: server.Client(),
	}
}

func TestFetchPriceDataParsesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "code:VNM")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"code":"VNM","date":"2026-03-09","open":65.2,"high":66.0,"low":64.8,"close":65.7,"nmVolume":1203400,"nmValue":79140000,"change":0.5,"pctChange":0.77},
			{"code":"VNM","date":"2026-03-10","open":65.7,"high":66.3,"low":65.5,"close":66.1,"nmVolume":981200,"nmValue":64870000,"change":0.4,"pctChange":0.61}
		]}`))
	}))
	defer server.Close()

	client := testVNDirectClient(server)
	prices, err := client.FetchPriceData(context.Background(), "VNM", refresh.DateRange{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, "VNM", prices[0].Symbol)
	assert.Equal(t, "vndirect", prices[0].Source)
	assert.Equal(t, "65.7", prices[0].Close.String())
	assert.Equal(t, int64(1203400), prices[0].Volume)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), prices[1].Date)
}

func TestFetchPriceDataBadDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"code":"VNM","date":"10/03/2026","close":66.1}]}`))
	}))
	defer server.Close()

	_, err := testVNDirectClient(server).FetchPriceData(context.Background(), "VNM", refresh.DateRange{})
	require.Error(t, err)
	assert.Equal(t, refresh.KindValidation, refresh.KindOf(err))
}

func TestFetchFundamentalsEmptyIsGateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	_, err := testVNDirectClient(server).FetchFundamentals(context.Background(), "NEWIPO")
	require.Error(t, err)
	assert.Equal(t, refresh.KindGateFailed, refresh.KindOf(err))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   refresh.ErrorKind
	}{
		{http.StatusTooManyRequests, refresh.KindTransient},
		{http.StatusServiceUnavailable, refresh.KindTransient},
		{http.StatusBadGateway, refresh.KindTransient},
		{http.StatusNotFound, refresh.KindValidation},
		{http.StatusForbidden, refresh.KindValidation},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := testVNDirectClient(server).FetchEarnings(context.Background(), "VNM")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, refresh.KindOf(err), "status %d", tc.status)
		server.Close()
	}

	assert.NoError(t, statusToError("vndirect", http.StatusOK))
}

func TestMalformedBodyIsComputation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": not json`))
	}))
	defer server.Close()

	_, err := testVNDirectClient(server).FetchEarnings(context.Background(), "VNM")
	require.Error(t, err)
	assert.Equal(t, refresh.KindComputation, refresh.KindOf(err))
}

func TestDefaultRegistryRouting(t *testing.T) {
	vndirect := NewVNDirectClient()
	ssi := NewSSIClient()
	registry := DefaultRegistry(vndirect, ssi)

	client, err := registry.Resolve(models.DataTypePriceHistorical)
	require.NoError(t, err)
	assert.Equal(t, "vndirect", client.Name())

	client, err = registry.Resolve(models.DataTypePriceCurrent)
	require.NoError(t, err)
	assert.Equal(t, "ssi", client.Name())

	// Derived data types have no upstream provider
	_, err = registry.Resolve(models.DataTypeIndicators)
	require.Error(t, err)
	assert.Equal(t, refresh.KindValidation, refresh.KindOf(err))
}
