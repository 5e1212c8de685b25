package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/procurement"
)

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	journalsPosted     *prometheus.CounterVec
	invoicesPaid       *prometheus.CounterVec
	invoiceRevenue     *prometheus.CounterVec
	stockMovements     *prometheus.CounterVec
	lowStockItems      *prometheus.GaugeVec
	consumptionRecords *prometheus.CounterVec
	fundTransactions   *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	poTransitions      *prometheus.CounterVec
	ledgerDrift        *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diagnostics_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		journalsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_journal_entries_posted_total",
			Help: "Journal entries posted by source module.",
		}, []string{"source"}),
		invoicesPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_invoices_paid_total",
			Help: "Invoices paid by payment method.",
		}, []string{"method"}),
		invoiceRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_invoice_revenue_total",
			Help: "Revenue collected on paid invoices by payment method.",
		}, []string{"method"}),
		stockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_stock_movements_total",
			Help: "Committed inventory movements by type and resulting stock status.",
		}, []string{"type", "status"}),
		lowStockItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "diagnostics_low_stock_items",
			Help: "Items at or below their reorder level per branch and status.",
		}, []string{"tenant", "branch", "status"}),
		consumptionRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_consumption_records_total",
			Help: "Test-completion deductions by outcome.",
		}, []string{"status", "critical"}),
		fundTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_petty_cash_transactions_total",
			Help: "Petty cash movements by type.",
		}, []string{"type"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_petty_cash_reconciliations_total",
			Help: "Petty cash reconciliations by outcome.",
		}, []string{"status"}),
		poTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_purchase_order_transitions_total",
			Help: "Purchase order status changes by target status.",
		}, []string{"to"}),
		ledgerDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagnostics_ledger_balance_drift_total",
			Help: "Accounts whose materialized balance disagreed with replay.",
		}, []string{"tenant"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.journalsPosted, m.invoicesPaid, m.invoiceRevenue,
		m.stockMovements, m.lowStockItems, m.consumptionRecords,
		m.fundTransactions, m.reconciliations, m.poTransitions, m.ledgerDrift,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// JournalPosted counts a posted journal entry.
func (m *Metrics) JournalPosted(sourceModule string) {
	if m == nil {
		return
	}
	m.journalsPosted.WithLabelValues(sourceModule).Inc()
}

// InvoicePaid counts a paid invoice and its amount.
func (m *Metrics) InvoicePaid(method string, amount float64) {
	if m == nil {
		return
	}
	m.invoicesPaid.WithLabelValues(method).Inc()
	m.invoiceRevenue.WithLabelValues(method).Add(amount)
}

// MovementRecorded counts a committed stock movement.
func (m *Metrics) MovementRecorded(_ context.Context, evt inventory.MovementRecordedEvent) {
	if m == nil {
		return
	}
	m.stockMovements.WithLabelValues(string(evt.Type), string(evt.Status)).Inc()
}

// SetLowStock publishes the number of low and critical items of a branch.
func (m *Metrics) SetLowStock(tenantID, branchID int64, critical, low int) {
	if m == nil {
		return
	}
	tenant, branch := strconv.FormatInt(tenantID, 10), strconv.FormatInt(branchID, 10)
	m.lowStockItems.WithLabelValues(tenant, branch, string(inventory.StockStatusCritical)).Set(float64(critical))
	m.lowStockItems.WithLabelValues(tenant, branch, string(inventory.StockStatusLow)).Set(float64(low))
}

// ConsumptionRecorded counts a deduction outcome.
func (m *Metrics) ConsumptionRecorded(status string, critical bool) {
	if m == nil {
		return
	}
	m.consumptionRecords.WithLabelValues(status, strconv.FormatBool(critical)).Inc()
}

// FundTransactionRecorded counts a petty cash movement.
func (m *Metrics) FundTransactionRecorded(txType string) {
	if m == nil {
		return
	}
	m.fundTransactions.WithLabelValues(txType).Inc()
}

// ReconciliationRecorded counts a petty cash reconciliation.
func (m *Metrics) ReconciliationRecorded(status string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
}

// POTransitioned counts a purchase order status change.
func (m *Metrics) POTransitioned(_ context.Context, evt procurement.TransitionEvent) {
	if m == nil {
		return
	}
	m.poTransitions.WithLabelValues(string(evt.To)).Inc()
}

// AddLedgerDrift counts drifting accounts found by the integrity check.
func (m *Metrics) AddLedgerDrift(tenantID int64, accounts int) {
	if m == nil || accounts <= 0 {
		return
	}
	m.ledgerDrift.WithLabelValues(strconv.FormatInt(tenantID, 10)).Add(float64(accounts))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
