// Package promo implements the capacity-gated admission controller for
// promotional slots. Active slot counts per family are bounded
// platform-wide; candidates that cannot be admitted are queued and drained
// when capacity frees up.
package promo

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"marketfront/internal/metrics"
	"marketfront/internal/types"
)

// BannerMaxActive caps the number of simultaneously active premium banners.
// Banner capacity is a product constant; the promotion cap is configured.
const BannerMaxActive = 4

// Scope bonuses for the weighted promotion score. Dealer placements outrank
// seller placements, which outrank single-vehicle placements.
const (
	scopeBonusDealer  = 50
	scopeBonusSeller  = 30
	scopeBonusVehicle = 10
)

// SlotStore is the persistence surface the controller needs. *db.SlotRepo
// satisfies it; Admit carries the capacity check and the status flip in one
// atomic unit.
type SlotStore interface {
	GetByID(ctx context.Context, slotID string) (*types.PromoSlot, error)
	MarkPaid(ctx context.Context, slotID string) (bool, error)
	Admit(ctx context.Context, slotID string, familyMax int, score int, now time.Time) (types.AdmissionResult, int, error)
	NextQueued(ctx context.Context, family types.SlotFamily) (*types.PromoSlot, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	Deactivate(ctx context.Context, slotID string) error
}

// Notifier dispatches best-effort slot notifications.
type Notifier interface {
	Notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) error
}

// Controller decides whether paid slots go active or queue, and drains the
// queue when active slots expire or are deactivated.
type Controller struct {
	slots        SlotStore
	notifier     Notifier
	metrics      metrics.Recorder
	promotionMax int
	logger       *slog.Logger
	now          func() time.Time
}

// NewController creates a Controller. promotionMax is the configured cap on
// active paid promotions.
func NewController(slots SlotStore, notifier Notifier, rec metrics.Recorder, promotionMax int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		slots:        slots,
		notifier:     notifier,
		metrics:      rec,
		promotionMax: promotionMax,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ScoreSlot computes the weighted priority score for a candidate. Banners
// score zero: their priority is assigned purely by arrival order among
// active slots.
func ScoreSlot(slot *types.PromoSlot) int {
	if slot.Family == types.SlotFamilyBanner {
		return 0
	}

	var bonus int
	switch slot.Scope {
	case types.SlotScopeDealer:
		bonus = scopeBonusDealer
	case types.SlotScopeSeller:
		bonus = scopeBonusSeller
	case types.SlotScopeVehicle:
		bonus = scopeBonusVehicle
	}

	return int(math.Round(slot.Price*0.6 + float64(slot.DurationDays)*0.4 + float64(bonus)))
}

// familyMax returns the active-capacity limit for a family.
func (c *Controller) familyMax(family types.SlotFamily) int {
	if family == types.SlotFamilyBanner {
		return BannerMaxActive
	}
	return c.promotionMax
}

// OnSlotPaid marks the slot paid and runs admission. Called from the
// webhook path when the provider confirms the slot's payment. A redelivered
// payment event finds the slot already paid and falls through to TryAdmit,
// which is idempotent for already-active slots.
func (c *Controller) OnSlotPaid(ctx context.Context, slotID string) (types.AdmissionResult, error) {
	applied, err := c.slots.MarkPaid(ctx, slotID)
	if err != nil {
		return "", err
	}
	if !applied {
		// Zero rows here does not prove a replay: an unknown slot ID also
		// updates nothing. TryAdmit's lookup settles which it was.
		c.logger.InfoContext(ctx, "slot payment had no effect, already paid or unknown slot",
			"slot_id", slotID,
		)
	}
	return c.TryAdmit(ctx, slotID)
}

// TryAdmit runs the admission algorithm for a paid slot: active immediately
// when the family has headroom, queued otherwise. Safe to re-run; an
// already-active slot admits as a no-op. The same operation serves the
// webhook path and the drain path.
func (c *Controller) TryAdmit(ctx context.Context, slotID string) (types.AdmissionResult, error) {
	slot, err := c.slots.GetByID(ctx, slotID)
	if err != nil {
		return "", err
	}

	result, priority, err := c.slots.Admit(ctx, slotID, c.familyMax(slot.Family), ScoreSlot(slot), c.now())
	if err != nil {
		return "", err
	}

	c.metrics.RecordAdmission(ctx, slot.Family, result)

	switch result {
	case types.AdmissionActive:
		c.logger.InfoContext(ctx, "slot admitted",
			"slot_id", slotID,
			"family", string(slot.Family),
			"priority", priority,
		)
		c.notify(ctx, types.NotifySlotActivated, slot, priority)
	case types.AdmissionQueued:
		c.logger.InfoContext(ctx, "slot queued, capacity exhausted",
			"slot_id", slotID,
			"family", string(slot.Family),
		)
		c.notify(ctx, types.NotifySlotQueued, slot, priority)
	}
	return result, nil
}

// Drain re-runs admission for queued slots of a family, highest score
// first, until one queues again or the queue empties. Called when an active
// slot expires or is deactivated.
func (c *Controller) Drain(ctx context.Context, family types.SlotFamily) error {
	for {
		next, err := c.slots.NextQueued(ctx, family)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		result, err := c.TryAdmit(ctx, next.ID)
		if err != nil {
			return err
		}
		if result != types.AdmissionActive {
			return nil
		}
	}
}

// Deactivate takes an active slot out of rotation and drains its family's
// queue into the freed capacity.
func (c *Controller) Deactivate(ctx context.Context, slotID string) error {
	slot, err := c.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}

	if err := c.slots.Deactivate(ctx, slotID); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "slot deactivated",
		"slot_id", slotID,
		"family", string(slot.Family),
	)
	return c.Drain(ctx, slot.Family)
}

// RunMaintenance expires overdue active slots and drains both families.
// Invoked on a timer from the process supervisor.
func (c *Controller) RunMaintenance(ctx context.Context) error {
	expired, err := c.slots.ExpireOverdue(ctx, c.now())
	if err != nil {
		return err
	}
	if expired > 0 {
		c.logger.InfoContext(ctx, "expired overdue slots", "count", expired)
	}

	if err := c.Drain(ctx, types.SlotFamilyBanner); err != nil {
		return err
	}
	return c.Drain(ctx, types.SlotFamilyPromotion)
}

func (c *Controller) notify(ctx context.Context, kind types.NotificationKind, slot *types.PromoSlot, priority int) {
	err := c.notifier.Notify(ctx, kind, slot.TenantID, "", map[string]string{
		"slot_id":  slot.ID,
		"family":   string(slot.Family),
		"priority": strconv.Itoa(priority),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "slot notification dispatch failed",
			"slot_id", slot.ID,
			"kind", string(kind),
			"error", err.Error(),
		)
	}
}
