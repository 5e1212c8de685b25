package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	retry   shared.RetryPolicy
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, retry shared.RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, retry: retry}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Post("/items", h.createItem)
		r.Get("/items", h.listItems)
		r.Get("/items/{id}", h.getItem)
		r.Get("/items/{id}/stock", h.stockLevel)
		r.Post("/items/{id}/rebuild", h.rebuild)
		r.Post("/transactions", h.recordTransaction)
		r.Get("/transactions", h.stockCard)
		r.Get("/low-stock", h.lowStock)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateItemInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	item, err := h.service.CreateItem(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListItems(r.Context(), actor.TenantID, r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := httpx.Page(r, len(items))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": shared.Window(items, page), "pagination": page})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
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
	item, err := h.service.GetItem(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) branchParam(r *http.Request, actor shared.Actor) (int64, error) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		return 0, err
	}
	if branchID == 0 {
		branchID = actor.BranchID
	}
	return branchID, nil
}

func (h *Handler) stockLevel(w http.ResponseWriter, r *http.Request) {
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
	branchID, err := h.branchParam(r, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), actor.TenantID, id, branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
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
	branchID, err := h.branchParam(r, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.RebuildStockLevel(r.Context(), actor.TenantID, id, branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input RecordInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.PerformedBy = actor.UserID
	if input.BranchID == 0 {
		input.BranchID = actor.BranchID
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	var txn Transaction
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		txn, err = h.service.RecordTransaction(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := TransactionFilter{TenantID: actor.TenantID}
	if filter.ItemID, err = httpx.QueryInt64(r, "item_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.BranchID, err = h.branchParam(r, actor); err != nil {
		h.fail(w, r, err)
		return
	}
	if from, err := httpx.QueryDate(r, "from"); err != nil {
		h.fail(w, r, err)
		return
	} else if from != nil {
		filter.From = *from
	}
	if to, err := httpx.QueryDate(r, "to"); err != nil {
		h.fail(w, r, err)
		return
	} else if to != nil {
		filter.To = *to
	}
	txns, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	branchID, err := h.branchParam(r, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	levels, err := h.service.ListLowStock(r.Context(), actor.TenantID, branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": levels})
}
