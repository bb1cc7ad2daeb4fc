package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/accountingtest"
	"github.com/odyssey-erp/ledger/internal/observability"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	actor   string
}

func (c apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.actor != "" {
		req.Header.Set(ActorHeader, c.actor)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

func newTestAPI(t *testing.T, cfg *Config) (apiClient, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	metrics := observability.NewMetrics()
	svc := NewServices(Deps{Config: cfg, Logger: logger, Stores: MemoryStores(), Metrics: metrics})
	ctx := context.Background()
	for _, in := range accountingtest.StandardChart() {
		_, err := svc.Registry.CreateAccount(ctx, in)
		require.NoError(t, err)
	}
	for _, m := range accountingtest.StandardMappings() {
		require.NoError(t, svc.Mappings.Upsert(ctx, m))
	}
	params := NewHandlers(logger, svc)
	params.Config = cfg
	params.Metrics = metrics
	return apiClient{t: t, handler: NewRouter(params), actor: "ana"}, metrics
}

func testConfig() *Config {
	return &Config{
		AppEnv:             "test",
		FunctionalCurrency: "PEN",
		FXRateSide:         "SELL",
		BalanceEpsilon:     decimal.RequireFromString("0.01"),
		ResultAccount:      "5911",
	}
}

func TestRouterPostingFlow(t *testing.T) {
	api, _ := newTestAPI(t, testConfig())

	rr := api.do(http.MethodPost, "/api/v1/periods", map[string]int{"year": 2026, "month": 3})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var period struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &period))
	assert.Equal(t, "OPEN", period.Status)

	doc := map[string]any{
		"module":      "INVOICE",
		"source_id":   "INV-1",
		"date":        "2026-03-15",
		"description": "Consulting March",
		"invoice": map[string]any{
			"number":       "F001-1",
			"client_id":    "CLI-1",
			"billing_type": "ONE_TIME",
			"subtotal":     "1000",
			"tax":          "0",
			"due_date":     "2026-04-14",
		},
	}
	rr = api.do(http.MethodPost, "/api/v1/postings", doc)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result struct {
		Entry struct {
			ID        int64  `json:"id"`
			Number    string `json:"entry_number"`
			Status    string `json:"status"`
			CreatedBy string `json:"created_by"`
		} `json:"entry"`
		Duplicate bool            `json:"duplicate"`
		Item      json.RawMessage `json:"subledger_item"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, "ASIENTO-2026-000001", result.Entry.Number)
	assert.Equal(t, "POSTED", result.Entry.Status)
	assert.Equal(t, "ana", result.Entry.CreatedBy)
	assert.False(t, result.Duplicate)
	assert.NotEmpty(t, result.Item)

	rr = api.do(http.MethodPost, "/api/v1/postings", doc)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"duplicate":true`)

	rr = api.do(http.MethodGet, fmt.Sprintf("/api/v1/periods/%d/trial-balance", period.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tb struct {
		TotalDebit  decimal.Decimal `json:"total_debit"`
		TotalCredit decimal.Decimal `json:"total_credit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tb))
	assert.True(t, tb.TotalDebit.Equal(decimal.NewFromInt(1000)))
	assert.True(t, tb.TotalDebit.Equal(tb.TotalCredit))

	rr = api.do(http.MethodPost, fmt.Sprintf("/api/v1/periods/%d/close", period.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(http.MethodGet, fmt.Sprintf("/api/v1/periods/%d/statements", period.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"closed":true`)

	doc["source_id"] = "INV-2"
	rr = api.do(http.MethodPost, "/api/v1/postings", doc)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "period-closed")
}

func TestRouterOperationalEndpoints(t *testing.T) {
	api, metrics := newTestAPI(t, testConfig())
	rr := api.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Frame-Options"))

	api.do(http.MethodGet, "/api/v1/periods", nil)
	rr = api.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `route="/api/v1/periods"`))
	assert.NotNil(t, metrics)
}

func TestRouterRequiresActor(t *testing.T) {
	cfg := testConfig()
	cfg.RequireActor = true
	api, _ := newTestAPI(t, cfg)
	api.actor = ""

	rr := api.do(http.MethodPost, "/api/v1/periods", map[string]int{"year": 2026, "month": 3})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = api.do(http.MethodGet, "/api/v1/periods", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
