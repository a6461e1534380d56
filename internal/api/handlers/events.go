package handlers

import (
	"encoding/json"
	"time"

	"marketfront/internal/types"
)

// Metadata keys the checkout and subscription flows attach to provider
// objects.
const (
	metaTenantID = "tenant_id"
	metaUserID   = "user_id"
	metaSlotID   = "slot_id"
)

// webhookEvent is a minimal representation of a provider webhook event
// tailored to extract the fields needed for routing and processing. The
// full stripe.Event type is deliberately not imported here; the handler
// consumes a closed set of typed objects and stays easy to test.
type webhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// eventData wraps the event data object.
type eventData struct {
	Object json.RawMessage `json:"object"`
}

// checkoutSessionObj carries the minimal fields from a
// checkout.session.completed event's data object.
type checkoutSessionObj struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// subscriptionObj carries the minimal fields from a subscription event's
// data object.
type subscriptionObj struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// invoiceObj carries the minimal fields from an invoice event's data
// object.
type invoiceObj struct {
	ID                  string            `json:"id"`
	Subscription        string            `json:"subscription"`
	AmountPaid          int64             `json:"amount_paid"`
	Currency            string            `json:"currency"`
	PeriodEnd           int64             `json:"period_end"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *subDetailsObj    `json:"subscription_details"`
}

type subDetailsObj struct {
	Metadata map[string]string `json:"metadata"`
}

// eventTimestamp returns the event's created timestamp as a time.Time.
func (e *webhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *webhookEvent) object() (json.RawMessage, error) {
	var data eventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, types.NewAppError(types.ErrCodeEventPayloadMalformed, "invalid event data wrapper", err)
	}
	return data.Object, nil
}

// checkoutSession decodes the event's data object as a checkout session.
func (e *webhookEvent) checkoutSession() (*checkoutSessionObj, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var session checkoutSessionObj
	if err := json.Unmarshal(obj, &session); err != nil {
		return nil, types.NewAppError(types.ErrCodeEventPayloadMalformed, "invalid checkout session object", err)
	}
	return &session, nil
}

// subscription decodes the event's data object as a subscription.
func (e *webhookEvent) subscription() (*subscriptionObj, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var sub subscriptionObj
	if err := json.Unmarshal(obj, &sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeEventPayloadMalformed, "invalid subscription object", err)
	}
	return &sub, nil
}

// invoice decodes the event's data object as an invoice.
func (e *webhookEvent) invoice() (*invoiceObj, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var inv invoiceObj
	if err := json.Unmarshal(obj, &inv); err != nil {
		return nil, types.NewAppError(types.ErrCodeEventPayloadMalformed, "invalid invoice object", err)
	}
	return &inv, nil
}

// tenantID resolves the tenant for a checkout session: the checkout flow
// sets client_reference_id, with metadata as fallback.
func (s *checkoutSessionObj) tenantID() string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata[metaTenantID]
}
