package pettycash

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Handler exposes petty cash endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	retry   shared.RetryPolicy
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service, retry shared.RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, retry: retry}
}

// MountRoutes registers petty cash routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/petty-cash/funds", func(r chi.Router) {
		r.Post("/", h.createFund)
		r.Get("/", h.listFunds)
		r.Get("/{id}", h.getFund)
		r.Post("/{id}/status", h.setStatus)
		r.Post("/{id}/transactions", h.recordTransaction)
		r.Get("/{id}/transactions", h.listTransactions)
		r.Post("/{id}/reconcile", h.reconcile)
		r.Get("/{id}/reconciliations", h.listReconciliations)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("petty cash request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) createFund(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateFundInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.CreatedBy = actor.UserID
	if input.BranchID == 0 {
		input.BranchID = actor.BranchID
	}
	fund, err := h.service.CreateFund(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fund)
}

func (h *Handler) listFunds(w http.ResponseWriter, r *http.Request) {
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
	funds, err := h.service.ListFunds(r.Context(), actor.TenantID, branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"funds": funds})
}

func (h *Handler) getFund(w http.ResponseWriter, r *http.Request) {
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
	fund, err := h.service.GetFund(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
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
	var body struct {
		Status FundStatus `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	var fund Fund
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		fund, err = h.service.SetFundStatus(ctx, actor.TenantID, id, body.Status, actor.UserID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
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
	var input FundTxInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.FundID = id
	input.CreatedBy = actor.UserID
	var txn Transaction
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		txn, err = h.service.RecordFundTransaction(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
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
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.ListTransactions(r.Context(), actor.TenantID, id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
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
	var input ReconcileInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.FundID = id
	input.ReconciledBy = actor.UserID
	var rec Reconciliation
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		rec, err = h.service.Reconcile(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) listReconciliations(w http.ResponseWriter, r *http.Request) {
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
	recs, err := h.service.ListReconciliations(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reconciliations": recs})
}
