package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"marketfront/internal/types"
)

// SubscriptionRepo manages the local mirror of provider subscriptions,
// receipts, and reward credits.
//
// Key invariants:
//   - At most one row per external_subscription_id (unique index; Create uses
//     ON CONFLICT DO NOTHING so replays are idempotent).
//   - UpdateStatus uses optimistic locking via last_event_at to discard
//     out-of-order provider events.
//   - Receipts are unique per external_invoice_id, keeping receipt generation
//     exactly-once per invoice.
type SubscriptionRepo struct {
	db     DBTX
	runner TxRunner
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo. The runner may be nil when
// the repo is already scoped to a transaction; CreateWithActivation requires
// it.
func NewSubscriptionRepo(db DBTX, runner TxRunner, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, runner: runner, logger: logger}
}

const subscriptionColumns = `id, tenant_id, user_id, membership_id,
	external_subscription_id, external_customer_id, status,
	current_period_start, current_period_end, cancel_at_period_end,
	last_payment_date, next_payment_date, days_past_due, last_event_at,
	created_at, updated_at`

// Create inserts a subscription row. Returns created = false when a row for
// the same external subscription ID already exists (idempotent replay or an
// earlier event won the race).
func (r *SubscriptionRepo) Create(ctx context.Context, sub *types.Subscription) (bool, error) {
	return r.create(ctx, r.db, sub)
}

// CreateWithActivation inserts the subscription row and activates the owning
// tenant and user records in one transaction, so a registration checkout
// either fully lands or not at all.
func (r *SubscriptionRepo) CreateWithActivation(ctx context.Context, sub *types.Subscription) (bool, error) {
	var created bool
	err := r.runner.InTx(ctx, func(q DBTX) error {
		var err error
		created, err = r.create(ctx, q, sub)
		if err != nil {
			return err
		}
		accounts := NewAccountRepo(q, r.logger)
		return accounts.ActivateAccount(ctx, sub.TenantID, sub.UserID)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *SubscriptionRepo) create(ctx context.Context, q DBTX, sub *types.Subscription) (bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	tag, err := q.Exec(ctx,
		`INSERT INTO subscriptions (id, tenant_id, user_id, membership_id,
		    external_subscription_id, external_customer_id, status,
		    current_period_start, current_period_end, cancel_at_period_end,
		    days_past_due, last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, NOW(), NOW())
		 ON CONFLICT (external_subscription_id) DO NOTHING`,
		sub.ID,
		sub.TenantID,
		sub.UserID,
		sub.MembershipID,
		sub.ExternalSubscriptionID,
		sub.ExternalCustomerID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.LastEventAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByExternalID looks up a subscription by its provider subscription ID.
// Returns an AppError with ErrCodeNotFoundSubscription when absent.
func (r *SubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE external_subscription_id = $1`,
		externalID,
	)

	var sub types.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.UserID, &sub.MembershipID,
		&sub.ExternalSubscriptionID, &sub.ExternalCustomerID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.LastPaymentDate, &sub.NextPaymentDate, &sub.DaysPastDue, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return &sub, nil
}

// UpdateStatus applies a status transition keyed by the provider event
// timestamp. Events older than the last applied one are silently discarded
// (idempotent no-op) -- returns applied = false in that case.
func (r *SubscriptionRepo) UpdateStatus(
	ctx context.Context,
	externalID string,
	status types.SubscriptionStatus,
	eventTime time.Time,
) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     last_event_at = $2,
		     updated_at = NOW()
		 WHERE external_subscription_id = $3
		   AND (last_event_at IS NULL OR last_event_at < $2)`,
		status,
		eventTime,
		externalID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale or unknown subscription event ignored",
			slog.String("external_subscription_id", externalID),
			slog.Time("event_time", eventTime),
		)
		return false, nil
	}
	return true, nil
}

// RecordPaymentSuccess marks a paid invoice: payment dates refreshed, dunning
// counter reset. Only a past_due or suspended subscription reactivates to
// active; any other status keeps its state, so a late invoice event cannot
// resurrect a cancelled subscription. One UPDATE so the reactivation cannot
// be observed half-applied.
func (r *SubscriptionRepo) RecordPaymentSuccess(ctx context.Context, externalID string, paidAt, nextPaymentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = CASE WHEN status IN ($1, $2) THEN $3 ELSE status END,
		     last_payment_date = $4,
		     next_payment_date = $5,
		     days_past_due = 0,
		     updated_at = NOW()
		 WHERE external_subscription_id = $6`,
		types.SubStatusPastDue,
		types.SubStatusSuspended,
		types.SubStatusActive,
		paidAt,
		nextPaymentAt,
		externalID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment success", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// RecordPaymentFailure transitions the subscription to past_due and bumps the
// dunning counter.
func (r *SubscriptionRepo) RecordPaymentFailure(ctx context.Context, externalID string, eventTime time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     days_past_due = days_past_due + 1,
		     last_event_at = $2,
		     updated_at = NOW()
		 WHERE external_subscription_id = $3`,
		types.SubStatusPastDue,
		eventTime,
		externalID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment failure", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// InsertReceipt persists one receipt per external invoice. Returns
// inserted = false when this invoice already has a receipt (event replay).
func (r *SubscriptionRepo) InsertReceipt(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO receipts (id, subscription_id, external_invoice_id, amount_cents, currency, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (external_invoice_id) DO NOTHING`,
		receipt.ID,
		receipt.SubscriptionID,
		receipt.ExternalInvoiceID,
		receipt.AmountCents,
		receipt.Currency,
		receipt.PaidAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert receipt", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyPendingCredits flips all of the user's pending reward credits to
// applied against the given invoice and returns them. The status predicate
// makes the operation exactly-once per credit: a replayed invoice finds no
// pending rows.
func (r *SubscriptionRepo) ApplyPendingCredits(ctx context.Context, userID, invoiceID string) ([]types.RewardCredit, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE reward_credits
		 SET status = $1,
		     applied_invoice_id = $2
		 WHERE user_id = $3
		   AND status = $4
		 RETURNING id, user_id, kind, status, applied_invoice_id`,
		types.RewardCreditApplied,
		invoiceID,
		userID,
		types.RewardCreditPending,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to apply reward credits", err)
	}
	defer rows.Close()

	var credits []types.RewardCredit
	for rows.Next() {
		var c types.RewardCredit
		if err := rows.Scan(&c.ID, &c.UserID, &c.Kind, &c.Status, &c.AppliedInvoiceID); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reward credit", err)
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read reward credits", err)
	}
	return credits, nil
}
