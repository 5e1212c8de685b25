package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/procurement"
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
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `diagnostics_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `diagnostics_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainMetricsExposed(t *testing.T) {
	metrics := NewMetrics()
	ctx := context.Background()

	metrics.JournalPosted("INVOICE")
	metrics.InvoicePaid("cash", 9000)
	metrics.MovementRecorded(ctx, inventory.MovementRecordedEvent{Type: inventory.TransactionTypeOut, Status: inventory.StockStatusLow})
	metrics.SetLowStock(1, 2, 3, 4)
	metrics.ConsumptionRecorded("failed", true)
	metrics.FundTransactionRecorded("expense")
	metrics.ReconciliationRecorded("variance")
	metrics.POTransitioned(ctx, procurement.TransitionEvent{To: procurement.POStatusApproved})
	metrics.AddLedgerDrift(1, 2)
	metrics.AddLedgerDrift(1, 0)

	body := scrape(t, metrics)
	for _, want := range []string{
		`diagnostics_journal_entries_posted_total{source="INVOICE"} 1`,
		`diagnostics_invoice_revenue_total{method="cash"} 9000`,
		`diagnostics_stock_movements_total{status="low",type="out"} 1`,
		`diagnostics_low_stock_items{branch="2",status="critical",tenant="1"} 3`,
		`diagnostics_consumption_records_total{critical="true",status="failed"} 1`,
		`diagnostics_petty_cash_transactions_total{type="expense"} 1`,
		`diagnostics_petty_cash_reconciliations_total{status="variance"} 1`,
		`diagnostics_purchase_order_transitions_total{to="approved"} 1`,
		`diagnostics_ledger_balance_drift_total{tenant="1"} 2`,
	} {
		require.Contains(t, body, want)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.JournalPosted("MANUAL")
	metrics.SetLowStock(1, 1, 1, 1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
