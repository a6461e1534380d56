// Package types holds the shared domain records, enums, and error taxonomy
// for the marketfront billing-event orchestrator. Records are plain structs
// persisted as rows keyed by generated or provider-issued IDs; all mutation
// goes through the repositories in internal/db.
package types

import "time"

// Subscription is the local mirror of a provider subscription. At most one
// row exists per ExternalSubscriptionID (unique index). Rows are never hard
// deleted; cancelled is the terminal state.
type Subscription struct {
	ID                     string             `json:"id"`
	TenantID               string             `json:"tenant_id"`
	UserID                 string             `json:"user_id"`
	MembershipID           string             `json:"membership_id"`
	ExternalSubscriptionID string             `json:"external_subscription_id"`
	ExternalCustomerID     string             `json:"external_customer_id"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	LastPaymentDate        *time.Time         `json:"last_payment_date,omitempty"`
	NextPaymentDate        *time.Time         `json:"next_payment_date,omitempty"`
	DaysPastDue            int                `json:"days_past_due"`
	// LastEventAt is the provider timestamp of the last applied event, used
	// for optimistic locking against out-of-order webhook delivery.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PromoSlot is a unit of paid promotional placement (premium banner or paid
// promotion) competing for the family's limited active capacity.
type PromoSlot struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Family        SlotFamily `json:"family"`
	Scope         SlotScope  `json:"scope"`
	Status        SlotStatus `json:"status"`
	Paid          bool       `json:"paid"`
	Price         float64    `json:"price"`
	DurationDays  int        `json:"duration_days"`
	Priority      int        `json:"priority"`
	PriorityScore int        `json:"priority_score"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	ApprovedBy    string     `json:"approved_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Referral credits a referring user once a referred user completes a
// qualifying payment. At most one row per ReferredID (unique index); rows are
// retained for audit, cancelled is terminal, rewarded is never cancelled.
type Referral struct {
	ID             string         `json:"id"`
	ReferrerID     string         `json:"referrer_id"`
	ReferredID     string         `json:"referred_id"`
	ReferralCode   string         `json:"referral_code"`
	UserType       string         `json:"user_type"`
	MembershipType string         `json:"membership_type"`
	Status         ReferralStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ScheduledTask defers work to a later process, e.g. referral confirmation
// after the cooling-off window. The task runner itself is out of scope; this
// system only creates and cancels rows.
type ScheduledTask struct {
	ID             string     `json:"id"`
	TaskType       string     `json:"task_type"`
	RelatedID      string     `json:"related_id"`
	SubscriptionID string     `json:"subscription_id"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Receipt records one successful invoice payment. ExternalInvoiceID is
// unique, which keeps receipt generation exactly-once per invoice under
// event redelivery.
type Receipt struct {
	ID                string    `json:"id"`
	SubscriptionID    string    `json:"subscription_id"`
	ExternalInvoiceID string    `json:"external_invoice_id"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	PaidAt            time.Time `json:"paid_at"`
}

// RewardCredit is a pending free month or discount earned by a user, applied
// at most once against a paid invoice.
type RewardCredit struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	Kind             RewardCreditKind   `json:"kind"`
	Status           RewardCreditStatus `json:"status"`
	AppliedInvoiceID string             `json:"applied_invoice_id,omitempty"`
}

// UserReferralInfo is the stored attribution on a user record, captured at
// signup and read when the user's first qualifying payment arrives.
type UserReferralInfo struct {
	ReferredBy       string `json:"referred_by"`
	ReferralCodeUsed string `json:"referral_code_used"`
	UserType         string `json:"user_type"`
}

// InvoicePayment carries the fields of a successful invoice payment event
// that the subscription state machine consumes.
type InvoicePayment struct {
	ExternalSubscriptionID string
	ExternalInvoiceID      string
	AmountCents            int64
	Currency               string
	PaidAt                 time.Time
	NextPaymentDate        time.Time
}
