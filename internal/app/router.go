package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/invoicing"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/observability"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/pettycash"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/procurement"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AccountingHandler  *accounting.Handler
	InvoiceHandler     *invoicing.Handler
	InventoryHandler   *inventory.Handler
	ConsumptionHandler *consumption.Handler
	ProcurementHandler *procurement.Handler
	PettyCashHandler   *pettycash.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the API under /api.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(ActorMiddleware)
		if params.AccountingHandler != nil {
			params.AccountingHandler.MountRoutes(r)
		}
		if params.InvoiceHandler != nil {
			params.InvoiceHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.ConsumptionHandler != nil {
			params.ConsumptionHandler.MountRoutes(r)
		}
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(r)
		}
		if params.PettyCashHandler != nil {
			params.PettyCashHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
