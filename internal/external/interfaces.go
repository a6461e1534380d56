// Package external is the anti-corruption layer between marketfront domain
// logic and the payment provider. All outbound HTTP calls route through the
// BaseClient, which enforces circuit breaking, bounded retries, and error
// mapping to the shared taxonomy.
package external

import (
	"context"

	"marketfront/internal/types"
)

// BillingProvider abstracts the read/update calls against the payment
// provider. The orchestrator uses it read-only except when applying reward
// credits (extending a billing period).
type BillingProvider interface {
	// RetrieveInvoice fetches an invoice by provider ID.
	RetrieveInvoice(ctx context.Context, invoiceID string) (*ProviderInvoice, error)

	// RetrieveSubscription fetches a subscription by provider ID.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ExtendBillingPeriod pushes the subscription's next billing date out by
	// the given number of days. Used to apply free-month reward credits.
	ExtendBillingPeriod(ctx context.Context, subscriptionID string, days int) error
}

// WebhookVerifier abstracts provider webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the signature header and
	// signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// ProviderInvoice is the subset of an invoice the orchestrator consumes.
type ProviderInvoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	AmountPaid     int64
	Currency       string
	PeriodEnd      int64
	Paid           bool
}

// ProviderSubscription is the subset of a subscription the orchestrator
// consumes.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// InternalStatus maps the provider subscription status onto the internal
// lifecycle state.
func (s *ProviderSubscription) InternalStatus() types.SubscriptionStatus {
	return types.MapProviderStatus(s.Status)
}

// Provider event type constants prevent magic strings in the webhook handler.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventSubCreated        = "customer.subscription.created"
	EventSubUpdated        = "customer.subscription.updated"
	EventSubDeleted        = "customer.subscription.deleted"
	EventInvoicePaid       = "invoice.payment_succeeded"
	EventInvoiceFailed     = "invoice.payment_failed"
)
