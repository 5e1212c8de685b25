package accounting

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Handler wires ledger endpoints.
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

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounting", func(r chi.Router) {
		r.Post("/accounts", h.createAccount)
		r.Get("/accounts", h.listAccounts)
		r.Get("/accounts/{code}", h.getAccount)
		r.Post("/accounts/{code}/activate", h.setActive(true))
		r.Post("/accounts/{code}/deactivate", h.setActive(false))
		r.Get("/accounts/{id}/balance", h.computeBalance)
		r.Get("/trial-balance", h.trialBalance)
		r.Post("/journals", h.postEntry)
		r.Get("/journals", h.listJournals)
		r.Get("/journals/{id}", h.getJournal)
		r.Post("/journals/{id}/reverse", h.reverseEntry)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("accounting request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateAccountInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	account, err := h.service.CreateAccount(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := AccountFilter{
		Type:       AccountType(r.URL.Query().Get("type")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	accounts, err := h.service.ListAccounts(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), actor.TenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		account, err := h.service.SetAccountActive(r.Context(), actor.TenantID, chi.URLParam(r, "code"), active, actor.UserID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, account)
	}
}

func (h *Handler) computeBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	accountID, err := httpx.PathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asOf, err := httpx.QueryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.ComputeBalance(r.Context(), actor.TenantID, accountID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asOf, err := httpx.QueryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), actor.TenantID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trial_balance": tb, "balanced": tb.Balanced()})
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input PostingInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	input.CreatedBy = actor.UserID
	input.SourceModule = SourceManual
	var entry JournalEntry
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		entry, err = h.service.PostEntry(ctx, input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := JournalFilter{Status: JournalStatus(r.URL.Query().Get("status"))}
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
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.Limit = int(limit)
	entries, err := h.service.ListJournalEntries(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
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
	entry, err := h.service.GetJournalEntry(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseRequest struct {
	Description string `json:"description"`
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
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
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	var reversal JournalEntry
	err = shared.Retry(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		reversal, err = h.service.ReverseEntry(ctx, ReverseInput{
			TenantID:    actor.TenantID,
			EntryID:     id,
			ActorID:     actor.UserID,
			Description: req.Description,
		})
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}
