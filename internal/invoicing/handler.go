package invoicing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Handler exposes invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	retry   shared.RetryPolicy
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, retry shared.RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, retry: retry}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/transactions", h.transactions)
		r.Post("/{id}/pay", h.pay)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("invoice request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.CreatedBy = actor.UserID
	if input.BranchID == 0 {
		input.BranchID = actor.BranchID
	}
	var inv Invoice
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		inv, err = h.service.CreateInvoice(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if branchID == 0 {
		branchID = actor.BranchID
	}
	invoices, err := h.service.ListInvoices(r.Context(), actor.TenantID, ListFilter{
		BranchID: branchID,
		Status:   PaymentStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txns, err := h.service.ListTransactions(r.Context(), actor.TenantID, &id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input MarkPaidInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.InvoiceID = id
	input.PaidBy = actor.UserID
	var inv Invoice
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		inv, err = h.service.MarkPaid(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
