// Package referral maintains the referral-attribution ledger: it credits a
// referring user when a referred user completes a qualifying payment and
// cascades cancellation when the referred subscription ends early.
package referral

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketfront/internal/types"
)

// confirmationDelay is the cooling-off window before a confirmed referral
// becomes reward-eligible. The task runner that grants rewards after this
// window is a separate process.
const confirmationDelay = 14 * 24 * time.Hour

// ReferralStore is the persistence surface the tracker needs.
// *db.ReferralRepo satisfies it.
type ReferralStore interface {
	Create(ctx context.Context, ref *types.Referral) (bool, error)
	Confirm(ctx context.Context, referralID string) (bool, error)
	CancelOpenByReferredUser(ctx context.Context, referredID string) (int64, error)
}

// TaskStore creates and cancels scheduled tasks. *db.TaskRepo satisfies it.
type TaskStore interface {
	Create(ctx context.Context, task *types.ScheduledTask) error
	CancelPendingBySubscription(ctx context.Context, subscriptionID, taskType string) (int64, error)
}

// AttributionStore reads the referral attribution captured on the user at
// signup. *db.AccountRepo satisfies it.
type AttributionStore interface {
	GetUserReferralInfo(ctx context.Context, userID string) (*types.UserReferralInfo, error)
}

// Notifier dispatches best-effort referral notifications.
type Notifier interface {
	Notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) error
}

// Tracker implements the referral attribution cascade.
type Tracker struct {
	referrals ReferralStore
	tasks     TaskStore
	accounts  AttributionStore
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker wires the tracker.
func NewTracker(referrals ReferralStore, tasks TaskStore, accounts AttributionStore, notifier Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		referrals: referrals,
		tasks:     tasks,
		accounts:  accounts,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnQualifyingPayment records attribution for the paying user's referrer.
// Users without stored attribution are a no-op. The referral is created
// pending and immediately confirmed; reward eligibility is deferred to a
// scheduled confirmation task rather than modeled as the creation state.
// The unique index on the referred user makes replays a no-op.
func (t *Tracker) OnQualifyingPayment(ctx context.Context, userID, subscriptionID, membershipID, paymentID string) error {
	info, err := t.accounts.GetUserReferralInfo(ctx, userID)
	if err != nil {
		return err
	}
	if info.ReferredBy == "" {
		return nil
	}

	ref := &types.Referral{
		ID:             uuid.New().String(),
		ReferrerID:     info.ReferredBy,
		ReferredID:     userID,
		ReferralCode:   info.ReferralCodeUsed,
		UserType:       info.UserType,
		MembershipType: membershipID,
		Status:         types.ReferralStatusPending,
		CreatedAt:      t.now(),
	}

	created, err := t.referrals.Create(ctx, ref)
	if err != nil {
		return err
	}
	if !created {
		t.logger.InfoContext(ctx, "referral already recorded for user",
			"referred_id", userID,
		)
		return nil
	}

	if _, err := t.referrals.Confirm(ctx, ref.ID); err != nil {
		return err
	}

	task := &types.ScheduledTask{
		ID:             uuid.New().String(),
		TaskType:       types.TaskTypeReferralConfirmation,
		RelatedID:      ref.ID,
		SubscriptionID: subscriptionID,
		ScheduledFor:   t.now().Add(confirmationDelay),
		Status:         types.TaskStatusPending,
	}
	if err := t.tasks.Create(ctx, task); err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "referral confirmed",
		"referral_id", ref.ID,
		"referrer_id", ref.ReferrerID,
		"referred_id", userID,
		"payment_id", paymentID,
		"confirmation_due", task.ScheduledFor,
	)

	if err := t.notifier.Notify(ctx, types.NotifyReferralConfirmation, "", ref.ReferrerID, map[string]string{
		"referral_id": ref.ID,
		"referred_id": userID,
	}); err != nil {
		t.logger.ErrorContext(ctx, "referral notification dispatch failed",
			"referral_id", ref.ID,
			"error", err.Error(),
		)
	}
	return nil
}

// OnSubscriptionCancelled cancels the user's open referrals and the pending
// confirmation tasks tied to the subscription. Rewarded referrals are never
// touched. Re-running against already-cancelled rows is a no-op.
func (t *Tracker) OnSubscriptionCancelled(ctx context.Context, userID, subscriptionID string) error {
	cancelled, err := t.referrals.CancelOpenByReferredUser(ctx, userID)
	if err != nil {
		return err
	}

	tasksCancelled, err := t.tasks.CancelPendingBySubscription(ctx, subscriptionID, types.TaskTypeReferralConfirmation)
	if err != nil {
		return err
	}

	if cancelled > 0 || tasksCancelled > 0 {
		t.logger.InfoContext(ctx, "referral cascade cancelled",
			"referred_id", userID,
			"subscription_id", subscriptionID,
			"referrals_cancelled", cancelled,
			"tasks_cancelled", tasksCancelled,
		)
	}
	return nil
}
