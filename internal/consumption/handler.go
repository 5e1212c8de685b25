package consumption

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/httpx"
)

// Enqueuer hands a completion to the background worker.
type Enqueuer interface {
	EnqueueConsumption(ctx context.Context, input ConsumeInput) error
}

// Handler exposes consumption endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
}

// NewHandler constructs the handler. enqueuer may be nil, in which case
// ?async=true requests are processed inline.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers consumption routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/lab/tests/{testID}/completed", h.testCompleted)
	r.Route("/consumption", func(r chi.Router) {
		r.Post("/templates", h.createTemplate)
		r.Get("/templates", h.listTemplates)
		r.Get("/failures", h.listFailures)
		r.Get("/records/{patientTestID}", h.listRecords)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("consumption request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type completedRequest struct {
	PatientTestID int64 `json:"patient_test_id"`
	BranchID      int64 `json:"branch_id"`
}

func (h *Handler) testCompleted(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	testID, err := httpx.PathInt64(r, "testID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req completedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input := ConsumeInput{
		TenantID:      actor.TenantID,
		TestID:        testID,
		PatientTestID: req.PatientTestID,
		BranchID:      req.BranchID,
		PerformedBy:   actor.UserID,
	}
	if input.BranchID == 0 {
		input.BranchID = actor.BranchID
	}
	if r.URL.Query().Get("async") == "true" && h.enqueuer != nil {
		if err := h.enqueuer.EnqueueConsumption(r.Context(), input); err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"patient_test_id": input.PatientTestID, "queued": true})
		return
	}
	result, err := h.service.ConsumeForTest(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateTemplateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.TenantID = actor.TenantID
	tpl, err := h.service.CreateTemplate(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	testID, err := httpx.QueryInt64(r, "test_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	templates, err := h.service.ListTemplates(r.Context(), actor.TenantID, testID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (h *Handler) listFailures(w http.ResponseWriter, r *http.Request) {
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
	records, err := h.service.ListFailures(r.Context(), actor.TenantID, branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"failures": records})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.PathInt64(r, "patientTestID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.service.ListRecords(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}
