package types

// SubscriptionStatus is the internal lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubStatusIncomplete SubscriptionStatus = "incomplete"
	SubStatusTrialing   SubscriptionStatus = "trialing"
	SubStatusActive     SubscriptionStatus = "active"
	SubStatusPastDue    SubscriptionStatus = "past_due"
	SubStatusCancelled  SubscriptionStatus = "cancelled"
	SubStatusSuspended  SubscriptionStatus = "suspended"
)

// MapProviderStatus translates a Stripe subscription status into the internal
// state. Unknown provider statuses map to active: the provider is the source
// of truth, and treating a novel "still billing" status as anything else would
// wrongly suspend a paying tenant.
func MapProviderStatus(providerStatus string) SubscriptionStatus {
	switch providerStatus {
	case "trialing":
		return SubStatusTrialing
	case "incomplete":
		return SubStatusIncomplete
	case "past_due", "unpaid":
		return SubStatusPastDue
	case "canceled", "incomplete_expired":
		return SubStatusCancelled
	default:
		return SubStatusActive
	}
}

// SlotFamily distinguishes the two promotional products, each with its own
// platform-wide active-capacity limit.
type SlotFamily string

const (
	SlotFamilyBanner    SlotFamily = "banner"
	SlotFamilyPromotion SlotFamily = "promotion"
)

// Valid reports whether f is a known slot family.
func (f SlotFamily) Valid() bool {
	return f == SlotFamilyBanner || f == SlotFamilyPromotion
}

// SlotScope is the marketplace entity a promotion advertises.
type SlotScope string

const (
	SlotScopeDealer  SlotScope = "dealer"
	SlotScopeSeller  SlotScope = "seller"
	SlotScopeVehicle SlotScope = "vehicle"
)

// SlotStatus is the lifecycle state of a promotional slot.
type SlotStatus string

const (
	SlotStatusPending  SlotStatus = "pending"
	SlotStatusQueued   SlotStatus = "queued"
	SlotStatusActive   SlotStatus = "active"
	SlotStatusExpired  SlotStatus = "expired"
	SlotStatusRejected SlotStatus = "rejected"
)

// AdmissionResult is the outcome of a slot admission attempt.
type AdmissionResult string

const (
	AdmissionActive AdmissionResult = "active"
	AdmissionQueued AdmissionResult = "queued"
)

// ReferralStatus is the lifecycle state of a referral record.
// Cancelled and rewarded are terminal; rewarded is never cancelled.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusConfirmed ReferralStatus = "confirmed"
	ReferralStatusRewarded  ReferralStatus = "rewarded"
	ReferralStatusCancelled ReferralStatus = "cancelled"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskTypeReferralConfirmation defers referral reward eligibility by the
// cooling-off window after the referred user's first qualifying payment.
const TaskTypeReferralConfirmation = "referral_confirmation"

// AccountStatus is the activation state of a tenant or user record.
type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// RewardCreditKind distinguishes the reward credit products.
type RewardCreditKind string

const (
	RewardCreditFreeMonth RewardCreditKind = "free_month"
	RewardCreditDiscount  RewardCreditKind = "discount"
)

// RewardCreditStatus is the application state of a reward credit.
type RewardCreditStatus string

const (
	RewardCreditPending RewardCreditStatus = "pending"
	RewardCreditApplied RewardCreditStatus = "applied"
)
