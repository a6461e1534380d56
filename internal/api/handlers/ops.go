package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketfront/internal/core"
	"marketfront/internal/types"
)

// SlotOperator is the admission controller surface the ops endpoints drive.
// *promo.Controller satisfies it.
type SlotOperator interface {
	Drain(ctx context.Context, family types.SlotFamily) error
	Deactivate(ctx context.Context, slotID string) error
}

// OpsHandler exposes the operational endpoints for promo slot management.
// All routes are gated by the admin API key.
type OpsHandler struct {
	slots    SlotOperator
	adminKey string
	logger   *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(slots SlotOperator, adminKey string, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		slots:    slots,
		adminKey: adminKey,
		logger:   logger,
	}
}

// RegisterRoutes mounts the ops endpoints behind admin key auth.
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ops/promo", func(r chi.Router) {
		r.Use(core.AdminKeyAuth(h.adminKey))
		r.Post("/drain", h.Drain)
		r.Post("/slots/{slotID}/deactivate", h.Deactivate)
	})
}

// drainResponse acknowledges a drain request.
type drainResponse struct {
	Drained []string `json:"drained"`
}

// Drain re-runs queue admission for one family, or both when no family
// query parameter is given.
func (h *OpsHandler) Drain(w http.ResponseWriter, r *http.Request) {
	families := []types.SlotFamily{types.SlotFamilyBanner, types.SlotFamilyPromotion}
	if raw := r.URL.Query().Get("family"); raw != "" {
		family := types.SlotFamily(raw)
		if !family.Valid() {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"unknown slot family",
				nil,
			))
			return
		}
		families = []types.SlotFamily{family}
	}

	drained := make([]string, 0, len(families))
	for _, family := range families {
		if err := h.slots.Drain(r.Context(), family); err != nil {
			core.Error(w, r, err)
			return
		}
		drained = append(drained, string(family))
	}

	h.logger.InfoContext(r.Context(), "manual drain completed",
		"families", drained,
	)
	core.JSON(w, r, http.StatusOK, drainResponse{Drained: drained})
}

// Deactivate takes an active slot out of rotation and drains the freed
// capacity.
func (h *OpsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	if slotID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"missing slot ID",
			nil,
		))
		return
	}

	if err := h.slots.Deactivate(r.Context(), slotID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "slot deactivated by operator",
		"slot_id", slotID,
	)
	core.JSON(w, r, http.StatusOK, map[string]string{"slot_id": slotID, "status": "deactivated"})
}
