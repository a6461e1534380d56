package types

import "time"

// NotificationKind identifies the template family for an outbound
// notification request. Delivery is owned by a separate worker; this system
// only enqueues requests.
type NotificationKind string

const (
	NotifyPaymentReceipt       NotificationKind = "payment_receipt"
	NotifyPaymentFailed        NotificationKind = "payment_failed"
	NotifyAccountSuspended     NotificationKind = "account_suspended"
	NotifyAccountReactivated   NotificationKind = "account_reactivated"
	NotifyReferralConfirmation NotificationKind = "referral_confirmation"
	NotifySlotActivated        NotificationKind = "slot_activated"
	NotifySlotQueued           NotificationKind = "slot_queued"
)

// NotificationMessage is the SQS payload handed to the notification worker.
// Data carries template variables; the worker resolves recipients from
// TenantID/UserID. Notification delivery is best-effort relative to state
// correctness: producers log and swallow publish failures.
type NotificationMessage struct {
	ID        string            `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	TenantID  string            `json:"tenant_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
