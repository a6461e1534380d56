package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"marketfront/internal/types"
)

// SlotRepo manages promotional slots and executes the capacity-gated
// admission decision.
//
// The platform-wide invariant -- active slots per family never exceed the
// family's maximum -- cannot survive a read-then-write race, so Admit runs
// the whole decide-and-persist cycle inside one transaction that holds a
// per-family advisory lock. Two concurrent admissions for the same family
// serialize on that lock; admissions for different families do not contend.
type SlotRepo struct {
	db     DBTX
	runner TxRunner
	logger *slog.Logger
}

// NewSlotRepo creates a SlotRepo. The runner is required for Admit.
func NewSlotRepo(db DBTX, runner TxRunner, logger *slog.Logger) *SlotRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotRepo{db: db, runner: runner, logger: logger}
}

const slotColumns = `id, tenant_id, family, scope, status, paid, price,
	duration_days, priority, priority_score, expires_at, activated_at,
	COALESCE(approved_by, ''), created_at`

func scanSlot(row pgx.Row) (*types.PromoSlot, error) {
	var s types.PromoSlot
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Family, &s.Scope, &s.Status, &s.Paid, &s.Price,
		&s.DurationDays, &s.Priority, &s.PriorityScore, &s.ExpiresAt, &s.ActivatedAt,
		&s.ApprovedBy, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID loads a slot. Returns ErrCodeNotFoundSlot when absent.
func (r *SlotRepo) GetByID(ctx context.Context, slotID string) (*types.PromoSlot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM promo_slots WHERE id = $1`,
		slotID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSlot, "promotional slot not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load promotional slot", err)
	}
	return slot, nil
}

// MarkPaid flags the slot as paid once its checkout completes. Returns
// applied = false when the slot was already paid (event replay).
func (r *SlotRepo) MarkPaid(ctx context.Context, slotID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE promo_slots SET paid = TRUE WHERE id = $1 AND paid = FALSE`,
		slotID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark slot paid", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Admit runs the admission decision for a paid slot as one atomic unit:
//
//  1. Take the family's advisory lock (released at transaction end).
//  2. Re-read the slot under the lock; an already-active slot short-circuits
//     to AdmissionActive, making Admit idempotent for the webhook retry path
//     and the drain path alike.
//  3. Read the family's active count and maximum priority.
//  4. Below capacity: activate with priority = max(score, currentMax+1) and
//     expires_at = now + duration. At capacity: queue. No eviction.
//
// If the transaction fails nothing is observable -- the caller retries the
// whole operation.
func (r *SlotRepo) Admit(ctx context.Context, slotID string, familyMax int, score int, now time.Time) (types.AdmissionResult, int, error) {
	var (
		result   types.AdmissionResult
		priority int
	)

	err := r.runner.InTx(ctx, func(q DBTX) error {
		var family types.SlotFamily
		if err := q.QueryRow(ctx,
			`SELECT family FROM promo_slots WHERE id = $1`,
			slotID,
		).Scan(&family); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return types.NewAppError(types.ErrCodeNotFoundSlot, "promotional slot not found", err)
			}
			return types.NewAppError(types.ErrCodeInternalDB, "failed to load slot family", err)
		}

		if _, err := q.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext('promo_slots:' || $1))`,
			string(family),
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to acquire family admission lock", err)
		}

		var (
			status types.SlotStatus
			paid   bool
		)
		if err := q.QueryRow(ctx,
			`SELECT status, priority, paid FROM promo_slots WHERE id = $1`,
			slotID,
		).Scan(&status, &priority, &paid); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to re-read slot under lock", err)
		}

		if status == types.SlotStatusActive {
			result = types.AdmissionActive
			return nil
		}
		if status != types.SlotStatusPending && status != types.SlotStatusQueued {
			return types.NewAppErrorWithDetails(
				types.ErrCodeConflictSlotState,
				"slot is not admissible",
				nil,
				map[string]any{"status": string(status)},
			)
		}
		if !paid {
			return types.NewAppError(types.ErrCodeConflictSlotState, "slot is not paid", nil)
		}

		var (
			activeCount int
			maxPriority int
		)
		if err := q.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(MAX(priority), 0)
			 FROM promo_slots
			 WHERE family = $1 AND status = $2`,
			family,
			types.SlotStatusActive,
		).Scan(&activeCount, &maxPriority); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to read family capacity", err)
		}

		// The advisory lock serializes every writer for the family, so an
		// overshoot means the data was corrupted outside this path.
		if activeCount > familyMax {
			return types.NewAppErrorWithDetails(
				types.ErrCodeInvariantViolation,
				"active slots exceed family capacity",
				nil,
				map[string]any{"family": string(family), "active": activeCount, "max": familyMax},
			)
		}

		if activeCount >= familyMax {
			if _, err := q.Exec(ctx,
				`UPDATE promo_slots
				 SET status = $1, priority_score = $2
				 WHERE id = $3`,
				types.SlotStatusQueued,
				score,
				slotID,
			); err != nil {
				return types.NewAppError(types.ErrCodeInternalDB, "failed to queue slot", err)
			}
			result = types.AdmissionQueued
			priority = 0
			return nil
		}

		// Strict total order: a newly admitted slot always outranks every
		// active slot in its family, and a high-value slot keeps its score.
		priority = score
		if maxPriority+1 > priority {
			priority = maxPriority + 1
		}

		var durationDays int
		if err := q.QueryRow(ctx,
			`SELECT duration_days FROM promo_slots WHERE id = $1`,
			slotID,
		).Scan(&durationDays); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to read slot duration", err)
		}

		expiresAt := now.Add(time.Duration(durationDays) * 24 * time.Hour)
		if _, err := q.Exec(ctx,
			`UPDATE promo_slots
			 SET status = $1,
			     priority = $2,
			     priority_score = $3,
			     expires_at = $4,
			     activated_at = $5
			 WHERE id = $6`,
			types.SlotStatusActive,
			priority,
			score,
			expiresAt,
			now,
			slotID,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to activate slot", err)
		}
		result = types.AdmissionActive
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return result, priority, nil
}

// NextQueued returns the queued slot the drain should try next: highest
// priority score first, then oldest. Returns (nil, nil) when the queue is
// empty.
func (r *SlotRepo) NextQueued(ctx context.Context, family types.SlotFamily) (*types.PromoSlot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx,
		`SELECT `+slotColumns+`
		 FROM promo_slots
		 WHERE family = $1 AND status = $2
		 ORDER BY priority_score DESC, created_at ASC
		 LIMIT 1`,
		family,
		types.SlotStatusQueued,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read promotion queue", err)
	}
	return slot, nil
}

// ExpireOverdue flips active slots whose expiry has passed to expired and
// returns how many were flipped. The caller drains the queues afterwards.
func (r *SlotRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE promo_slots
		 SET status = $1
		 WHERE status = $2 AND expires_at <= $3`,
		types.SlotStatusExpired,
		types.SlotStatusActive,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire overdue slots", err)
	}
	return tag.RowsAffected(), nil
}

// Deactivate manually expires an active slot, freeing its capacity.
func (r *SlotRepo) Deactivate(ctx context.Context, slotID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE promo_slots
		 SET status = $1
		 WHERE id = $2 AND status = $3`,
		types.SlotStatusExpired,
		slotID,
		types.SlotStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate slot", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictSlotState, "slot is not active", nil)
	}
	return nil
}
