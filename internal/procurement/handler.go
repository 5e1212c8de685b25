package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	retry   shared.RetryPolicy
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, retry shared.RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, retry: retry}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/procurement", func(r chi.Router) {
		r.Get("/approval-tiers", h.listTiers)
		r.Post("/purchase-orders", h.createPO)
		r.Get("/purchase-orders", h.listPOs)
		r.Get("/purchase-orders/{id}", h.getPO)
		r.Get("/purchase-orders/{id}/approvals", h.approvals)
		r.Post("/purchase-orders/{id}/submit", h.step(h.service.Submit))
		r.Post("/purchase-orders/{id}/approve", h.approve)
		r.Post("/purchase-orders/{id}/reject", h.reject)
		r.Post("/purchase-orders/{id}/order", h.step(h.service.MarkOrdered))
		r.Post("/purchase-orders/{id}/receive", h.step(h.service.MarkReceived))
		r.Post("/purchase-orders/{id}/complete", h.step(h.service.Complete))
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Actor(r); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tiers": h.service.Policy().Tiers()})
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.RequestedBy = actor.UserID
	if input.BranchID == 0 {
		input.BranchID = actor.BranchID
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := ListFilter{Status: POStatus(r.URL.Query().Get("status"))}
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	pos, err := h.service.ListPurchaseOrders(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": pos})
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
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
	po, err := h.service.GetPurchaseOrder(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
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
	logs, err := h.service.ApprovalHistory(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

type stepFunc func(ctx context.Context, tenantID, poID, actorID int64) (PurchaseOrder, error)

func (h *Handler) step(fn stepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		var po PurchaseOrder
		err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
			var err error
			po, err = fn(ctx, actor.TenantID, id, actor.UserID)
			return err
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
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
	var input ApproveInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &input); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	input.TenantID = actor.TenantID
	input.POID = id
	input.ApproverID = actor.UserID
	input.ApproverRole = actor.Role
	var po PurchaseOrder
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		po, err = h.service.Approve(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
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
	var input RejectInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.POID = id
	input.ActorID = actor.UserID
	input.ActorRole = actor.Role
	var po PurchaseOrder
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		po, err = h.service.Reject(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}
