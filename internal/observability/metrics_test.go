package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `ledger_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `ledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObserveLedgerOpLabelsErrorKind(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveLedgerOp("entry.create", nil)
	metrics.ObserveLedgerOp("entry.create", fmt.Errorf("wrap: %w", shared.ErrPeriodClosed))
	metrics.ObserveLedgerOp("entry.create", &shared.UnbalancedError{})
	metrics.ObserveLedgerOp("entry.create", errors.New("connection reset"))

	body := scrape(t, metrics)
	for _, outcome := range []string{"ok", "period_closed", "unbalanced", "error"} {
		assert.Contains(t, body, `ledger_operations_total{op="entry.create",outcome="`+outcome+`"} 1`)
	}
}

func TestTrackerRecordsJobStatus(t *testing.T) {
	metrics := NewMetrics()
	boom := errors.New("boom")
	require.NoError(t, metrics.Track("gl:integrity").End(nil))
	require.ErrorIs(t, metrics.Track("gl:integrity").End(boom), boom)
	metrics.AddViolations("entry_balance", 2)

	body := scrape(t, metrics)
	assert.Contains(t, body, `ledger_jobs_total{job="gl:integrity",status="success"} 1`)
	assert.Contains(t, body, `ledger_jobs_total{job="gl:integrity",status="failure"} 1`)
	assert.Contains(t, body, `ledger_integrity_violations_total{check="entry_balance"} 2`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveLedgerOp("entry.create", nil)
	metrics.AddViolations("entry_balance", 1)
	assert.NoError(t, metrics.Track("x").End(nil))
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
