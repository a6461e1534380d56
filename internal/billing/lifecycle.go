// Package billing implements the subscription state machine: it maps
// provider subscription and invoice events onto local subscription records
// and drives the account activation, suspension, and reward side effects.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketfront/internal/external"
	"marketfront/internal/types"
)

// freeMonthDays is the billing-period extension granted per free-month
// reward credit.
const freeMonthDays = 30

// Metadata keys the provider attaches to subscriptions and checkout
// sessions at creation time.
const (
	MetaTenantID     = "tenant_id"
	MetaUserID       = "user_id"
	MetaMembershipID = "membership_id"
	MetaRegistration = "registration"
)

// SubscriptionStore is the persistence surface the state machine needs.
// *db.SubscriptionRepo satisfies it.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *types.Subscription) (bool, error)
	CreateWithActivation(ctx context.Context, sub *types.Subscription) (bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*types.Subscription, error)
	UpdateStatus(ctx context.Context, externalID string, status types.SubscriptionStatus, eventTime time.Time) (bool, error)
	RecordPaymentSuccess(ctx context.Context, externalID string, paidAt, nextPaymentAt time.Time) error
	RecordPaymentFailure(ctx context.Context, externalID string, eventTime time.Time) error
	InsertReceipt(ctx context.Context, receipt *types.Receipt) (bool, error)
	ApplyPendingCredits(ctx context.Context, userID, invoiceID string) ([]types.RewardCredit, error)
}

// AccountStore mutates tenant and user records in response to lifecycle
// transitions. *db.AccountRepo satisfies it.
type AccountStore interface {
	ActivateAccount(ctx context.Context, tenantID, userID string) error
	SetUserEmailEnabled(ctx context.Context, userID string, enabled bool) error
	SuspendTenant(ctx context.Context, tenantID string) error
}

// Notifier dispatches best-effort notifications. Failures are logged and
// never fail the lifecycle transition.
type Notifier interface {
	Notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) error
}

// ReferralCascade is the referral tracker surface the state machine drives.
type ReferralCascade interface {
	OnQualifyingPayment(ctx context.Context, userID, subscriptionID, membershipID, paymentID string) error
	OnSubscriptionCancelled(ctx context.Context, userID, subscriptionID string) error
}

// Service is the subscription state machine.
type Service struct {
	subs      SubscriptionStore
	accounts  AccountStore
	referrals ReferralCascade
	notifier  Notifier
	provider  external.BillingProvider
	logger    *slog.Logger
}

// NewService wires the state machine.
func NewService(
	subs SubscriptionStore,
	accounts AccountStore,
	referrals ReferralCascade,
	notifier Notifier,
	provider external.BillingProvider,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subs:      subs,
		accounts:  accounts,
		referrals: referrals,
		notifier:  notifier,
		provider:  provider,
		logger:    logger,
	}
}

// SubscriptionCreated handles a provider subscription.created event. For
// registration checkouts the subscription insert and the tenant/user
// activation commit in one transaction; otherwise the row is created in the
// mapped status and referral attribution is triggered.
func (s *Service) SubscriptionCreated(ctx context.Context, psub *external.ProviderSubscription) error {
	sub := subscriptionFromProvider(psub)

	isRegistration := psub.Metadata[MetaRegistration] == "true"
	if isRegistration && sub.Status == types.SubStatusActive {
		created, err := s.subs.CreateWithActivation(ctx, sub)
		if err != nil {
			return err
		}
		if !created {
			s.logger.InfoContext(ctx, "subscription already exists, create skipped",
				"external_subscription_id", psub.ID,
			)
		}
		return nil
	}

	created, err := s.subs.Create(ctx, sub)
	if err != nil {
		return err
	}
	if !created {
		s.logger.InfoContext(ctx, "subscription already exists, create skipped",
			"external_subscription_id", psub.ID,
		)
		return nil
	}

	if err := s.referrals.OnQualifyingPayment(ctx, sub.UserID, sub.ID, sub.MembershipID, psub.ID); err != nil {
		s.logger.ErrorContext(ctx, "referral attribution failed",
			"user_id", sub.UserID,
			"subscription_id", sub.ID,
			"error", err.Error(),
		)
	}
	return nil
}

// SubscriptionUpdated recomputes the mapped status and persists it, guarded
// by the event timestamp so stale redeliveries are discarded. On an applied
// transition the email-access policy is re-evaluated for the new status.
func (s *Service) SubscriptionUpdated(ctx context.Context, psub *external.ProviderSubscription, eventTime time.Time) error {
	status := psub.InternalStatus()

	applied, err := s.subs.UpdateStatus(ctx, psub.ID, status, eventTime)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	sub, err := s.subs.GetByExternalID(ctx, psub.ID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	s.applyEmailPolicy(ctx, sub, status)
	return nil
}

// SubscriptionDeleted marks the subscription cancelled and cascades
// cancellation to the user's open referrals and pending confirmation tasks.
func (s *Service) SubscriptionDeleted(ctx context.Context, externalID string, eventTime time.Time) error {
	sub, err := s.subs.GetByExternalID(ctx, externalID)
	if err != nil {
		if isNotFound(err) {
			s.logger.WarnContext(ctx, "subscription deleted event for unknown subscription",
				"external_subscription_id", externalID,
			)
			return nil
		}
		return err
	}

	applied, err := s.subs.UpdateStatus(ctx, externalID, types.SubStatusCancelled, eventTime)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := s.referrals.OnSubscriptionCancelled(ctx, sub.UserID, sub.ID); err != nil {
		s.logger.ErrorContext(ctx, "referral cancellation cascade failed",
			"user_id", sub.UserID,
			"subscription_id", sub.ID,
			"error", err.Error(),
		)
	}

	if err := s.accounts.SetUserEmailEnabled(ctx, sub.UserID, false); err != nil {
		s.logger.ErrorContext(ctx, "failed to disable user email access",
			"user_id", sub.UserID,
			"error", err.Error(),
		)
	}
	return nil
}

// InvoicePaymentSucceeded handles a paid invoice. The receipt insert is the
// exactly-once gate: a duplicate invoice short-circuits before any state
// change. A delinquent subscription is reactivated, pending reward credits
// are applied, and referral attribution fires for the paying user.
func (s *Service) InvoicePaymentSucceeded(ctx context.Context, payment *types.InvoicePayment) error {
	sub, err := s.subs.GetByExternalID(ctx, payment.ExternalSubscriptionID)
	if err != nil {
		if isNotFound(err) {
			s.logger.WarnContext(ctx, "invoice paid for unknown subscription",
				"external_subscription_id", payment.ExternalSubscriptionID,
				"external_invoice_id", payment.ExternalInvoiceID,
			)
			return nil
		}
		return err
	}

	inserted, err := s.subs.InsertReceipt(ctx, &types.Receipt{
		ID:                uuid.New().String(),
		SubscriptionID:    sub.ID,
		ExternalInvoiceID: payment.ExternalInvoiceID,
		AmountCents:       payment.AmountCents,
		Currency:          payment.Currency,
		PaidAt:            payment.PaidAt,
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.InfoContext(ctx, "invoice already receipted, payment skipped",
			"external_invoice_id", payment.ExternalInvoiceID,
		)
		return nil
	}

	wasDelinquent := sub.Status == types.SubStatusPastDue || sub.Status == types.SubStatusSuspended

	if err := s.subs.RecordPaymentSuccess(ctx, payment.ExternalSubscriptionID, payment.PaidAt, payment.NextPaymentDate); err != nil {
		return err
	}

	if wasDelinquent {
		if err := s.accounts.SetUserEmailEnabled(ctx, sub.UserID, true); err != nil {
			s.logger.ErrorContext(ctx, "failed to re-enable user email access",
				"user_id", sub.UserID,
				"error", err.Error(),
			)
		}
		s.notify(ctx, types.NotifyAccountReactivated, sub.TenantID, sub.UserID, map[string]string{
			"subscription_id": sub.ID,
		})
	}

	s.applyRewardCredits(ctx, sub, payment.ExternalInvoiceID)

	if err := s.referrals.OnQualifyingPayment(ctx, sub.UserID, sub.ID, sub.MembershipID, payment.ExternalInvoiceID); err != nil {
		s.logger.ErrorContext(ctx, "referral attribution failed",
			"user_id", sub.UserID,
			"subscription_id", sub.ID,
			"error", err.Error(),
		)
	}

	s.notify(ctx, types.NotifyPaymentReceipt, sub.TenantID, sub.UserID, map[string]string{
		"invoice_id": payment.ExternalInvoiceID,
		"currency":   payment.Currency,
	})
	return nil
}

// InvoicePaymentFailed transitions the subscription to past_due and bumps
// the dunning counter.
func (s *Service) InvoicePaymentFailed(ctx context.Context, externalSubscriptionID string, eventTime time.Time) error {
	sub, err := s.subs.GetByExternalID(ctx, externalSubscriptionID)
	if err != nil {
		if isNotFound(err) {
			s.logger.WarnContext(ctx, "invoice failed for unknown subscription",
				"external_subscription_id", externalSubscriptionID,
			)
			return nil
		}
		return err
	}

	if err := s.subs.RecordPaymentFailure(ctx, externalSubscriptionID, eventTime); err != nil {
		return err
	}

	s.notify(ctx, types.NotifyPaymentFailed, sub.TenantID, sub.UserID, map[string]string{
		"subscription_id": sub.ID,
	})
	return nil
}

// CheckoutCompleted activates the tenant and user unconditionally: payment
// capture already happened, so activation does not wait for the
// subscription's own status to settle. If the session carries a
// subscription ID with no local row yet, the row is reconciled from the
// provider.
func (s *Service) CheckoutCompleted(ctx context.Context, tenantID, userID, externalSubscriptionID string) error {
	if err := s.accounts.ActivateAccount(ctx, tenantID, userID); err != nil {
		return err
	}

	if externalSubscriptionID == "" {
		return nil
	}

	if _, err := s.subs.GetByExternalID(ctx, externalSubscriptionID); err == nil {
		return nil
	} else if !isNotFound(err) {
		return err
	}

	psub, err := s.provider.RetrieveSubscription(ctx, externalSubscriptionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reconcile subscription after checkout",
			"external_subscription_id", externalSubscriptionID,
			"error", err.Error(),
		)
		return nil
	}

	sub := subscriptionFromProvider(psub)
	if sub.TenantID == "" {
		sub.TenantID = tenantID
	}
	if sub.UserID == "" {
		sub.UserID = userID
	}
	if _, err := s.subs.Create(ctx, sub); err != nil {
		return err
	}
	return nil
}

// applyEmailPolicy enables or disables the user's email access for the new
// status and suspends the tenant on an administrative suspension.
func (s *Service) applyEmailPolicy(ctx context.Context, sub *types.Subscription, status types.SubscriptionStatus) {
	var enabled bool
	switch status {
	case types.SubStatusActive, types.SubStatusTrialing:
		enabled = true
	case types.SubStatusPastDue, types.SubStatusCancelled, types.SubStatusSuspended:
		enabled = false
	default:
		return
	}

	if err := s.accounts.SetUserEmailEnabled(ctx, sub.UserID, enabled); err != nil {
		s.logger.ErrorContext(ctx, "failed to apply email policy",
			"user_id", sub.UserID,
			"status", string(status),
			"error", err.Error(),
		)
	}

	if status == types.SubStatusSuspended {
		if err := s.accounts.SuspendTenant(ctx, sub.TenantID); err != nil {
			s.logger.ErrorContext(ctx, "failed to suspend tenant",
				"tenant_id", sub.TenantID,
				"error", err.Error(),
			)
		}
		s.notify(ctx, types.NotifyAccountSuspended, sub.TenantID, sub.UserID, map[string]string{
			"subscription_id": sub.ID,
		})
	}
}

// applyRewardCredits flips the user's pending credits to applied and pushes
// the billing period out for each free month. Credit failures never fail
// the already-committed payment transition.
func (s *Service) applyRewardCredits(ctx context.Context, sub *types.Subscription, invoiceID string) {
	credits, err := s.subs.ApplyPendingCredits(ctx, sub.UserID, invoiceID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to apply reward credits",
			"user_id", sub.UserID,
			"invoice_id", invoiceID,
			"error", err.Error(),
		)
		return
	}

	for _, credit := range credits {
		if credit.Kind != types.RewardCreditFreeMonth {
			continue
		}
		if err := s.provider.ExtendBillingPeriod(ctx, sub.ExternalSubscriptionID, freeMonthDays); err != nil {
			s.logger.ErrorContext(ctx, "failed to extend billing period for credit",
				"credit_id", credit.ID,
				"external_subscription_id", sub.ExternalSubscriptionID,
				"error", err.Error(),
			)
		}
	}
}

// notify sends a best-effort notification; failures are logged only.
func (s *Service) notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) {
	if err := s.notifier.Notify(ctx, kind, tenantID, userID, data); err != nil {
		s.logger.ErrorContext(ctx, "notification dispatch failed",
			"kind", string(kind),
			"tenant_id", tenantID,
			"error", err.Error(),
		)
	}
}

// subscriptionFromProvider builds the local record from the provider's
// representation and metadata.
func subscriptionFromProvider(psub *external.ProviderSubscription) *types.Subscription {
	return &types.Subscription{
		ID:                     uuid.New().String(),
		TenantID:               psub.Metadata[MetaTenantID],
		UserID:                 psub.Metadata[MetaUserID],
		MembershipID:           psub.Metadata[MetaMembershipID],
		ExternalSubscriptionID: psub.ID,
		ExternalCustomerID:     psub.CustomerID,
		Status:                 psub.InternalStatus(),
		CurrentPeriodStart:     time.Unix(psub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:       time.Unix(psub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:      psub.CancelAtPeriodEnd,
	}
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundSubscription
}
