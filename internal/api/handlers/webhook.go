// Package handlers contains the HTTP handler implementations for the
// marketfront event-intake API.
//
// The webhook handler is NOT behind auth middleware -- it is called directly
// by the payment provider. Security comes from verifying the
// Stripe-Signature header against the webhook signing secret.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketfront/internal/core"
	"marketfront/internal/external"
	"marketfront/internal/metrics"
	"marketfront/internal/types"
)

// EventLedger is the idempotency claim surface. *db.EventLedgerRepo
// satisfies it.
type EventLedger interface {
	// ClaimOnce records the event ID; alreadyProcessed = true reports a
	// duplicate delivery.
	ClaimOnce(ctx context.Context, eventID, eventType string, rawPayload []byte) (alreadyProcessed bool, err error)

	// Release frees a claim so the provider's redelivery can retry the event.
	Release(ctx context.Context, eventID string) error
}

// LifecycleService is the subscription state machine surface.
// *billing.Service satisfies it.
type LifecycleService interface {
	SubscriptionCreated(ctx context.Context, psub *external.ProviderSubscription) error
	SubscriptionUpdated(ctx context.Context, psub *external.ProviderSubscription, eventTime time.Time) error
	SubscriptionDeleted(ctx context.Context, externalID string, eventTime time.Time) error
	InvoicePaymentSucceeded(ctx context.Context, payment *types.InvoicePayment) error
	InvoicePaymentFailed(ctx context.Context, externalSubscriptionID string, eventTime time.Time) error
	CheckoutCompleted(ctx context.Context, tenantID, userID, externalSubscriptionID string) error
}

// SlotAdmitter is the admission controller surface the webhook path drives.
// *promo.Controller satisfies it.
type SlotAdmitter interface {
	OnSlotPaid(ctx context.Context, slotID string) (types.AdmissionResult, error)
}

// WebhookHandler ingests provider events: verify, claim, dispatch.
type WebhookHandler struct {
	verifier          external.WebhookVerifier
	ledger            EventLedger
	lifecycle         LifecycleService
	slots             SlotAdmitter
	metrics           metrics.Recorder
	secret            string
	maxBodyBytes      int64
	processingTimeout time.Duration
	logger            *slog.Logger
}

// WebhookHandlerConfig bundles the handler's tuning knobs.
type WebhookHandlerConfig struct {
	Secret            string
	MaxBodyBytes      int64
	ProcessingTimeout time.Duration
}

// NewWebhookHandler creates a WebhookHandler with the provided dependencies.
func NewWebhookHandler(
	verifier external.WebhookVerifier,
	ledger EventLedger,
	lifecycle LifecycleService,
	slots SlotAdmitter,
	rec metrics.Recorder,
	cfg WebhookHandlerConfig,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier:          verifier,
		ledger:            ledger,
		lifecycle:         lifecycle,
		slots:             slots,
		metrics:           rec,
		secret:            cfg.Secret,
		maxBodyBytes:      cfg.MaxBodyBytes,
		processingTimeout: cfg.ProcessingTimeout,
		logger:            logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the ops
// routes because webhook routes carry no auth middleware.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// receivedResponse is the acknowledgment body the provider expects.
type receivedResponse struct {
	Received bool `json:"received"`
}

// Handle processes one inbound provider event:
//
//  1. Read the raw body with a size limit.
//  2. Verify the Stripe-Signature header; failure is a 400 and nothing else
//     runs.
//  3. Decode the envelope; unhandled event types acknowledge immediately
//     without claiming the ID.
//  4. Claim the event ID; a duplicate acknowledges without reapplying side
//     effects.
//  5. Dispatch under the processing timeout. A retryable failure releases
//     the claim and surfaces a 5xx so the provider redelivers; a terminal
//     failure keeps the claim and acknowledges, since redelivery cannot
//     change the outcome.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeEventPayloadMalformed,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeEventSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeEventSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeEventPayloadMalformed,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	if !h.handlesType(event.Type) {
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		h.metrics.RecordWebhookEvent(r.Context(), event.Type, metrics.OutcomeIgnored)
		core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
		return
	}

	alreadyProcessed, err := h.ledger.ClaimOnce(r.Context(), event.ID, event.Type, payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if alreadyProcessed {
		h.logger.InfoContext(r.Context(), "duplicate webhook event acknowledged",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		h.metrics.RecordWebhookEvent(r.Context(), event.Type, metrics.OutcomeDuplicate)
		core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
		return
	}

	h.logger.InfoContext(r.Context(), "processing webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	ctx, cancel := context.WithTimeout(r.Context(), h.processingTimeout)
	defer cancel()

	start := time.Now()
	dispatchErr := h.dispatch(ctx, &event)
	h.metrics.RecordWebhookLatency(r.Context(), event.Type, time.Since(start))

	if dispatchErr != nil {
		if isRetryable(dispatchErr) {
			if relErr := h.ledger.Release(r.Context(), event.ID); relErr != nil {
				h.logger.ErrorContext(r.Context(), "failed to release event claim",
					"event_id", event.ID,
					"error", relErr,
				)
			}
			h.logger.ErrorContext(r.Context(), "webhook event processing failed, provider will redeliver",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", dispatchErr,
			)
			h.metrics.RecordWebhookEvent(r.Context(), event.Type, metrics.OutcomeFailed)
			core.Error(w, r, dispatchErr)
			return
		}

		// Terminal failure: the claim stays so the provider's redelivery does
		// not replay a payload that cannot succeed.
		h.logger.ErrorContext(r.Context(), "webhook event processing failed terminally",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", dispatchErr,
		)
		h.metrics.RecordWebhookEvent(r.Context(), event.Type, metrics.OutcomeFailed)
		core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
		return
	}

	h.metrics.RecordWebhookEvent(r.Context(), event.Type, metrics.OutcomeProcessed)
	core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
}

// handlesType reports whether the dispatcher routes this event type.
func (h *WebhookHandler) handlesType(eventType string) bool {
	switch eventType {
	case external.EventCheckoutCompleted,
		external.EventSubCreated,
		external.EventSubUpdated,
		external.EventSubDeleted,
		external.EventInvoicePaid,
		external.EventInvoiceFailed:
		return true
	default:
		return false
	}
}

// dispatch routes a claimed event to the lifecycle and admission components.
func (h *WebhookHandler) dispatch(ctx context.Context, event *webhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventSubCreated:
		sub, err := event.subscription()
		if err != nil {
			return err
		}
		return h.lifecycle.SubscriptionCreated(ctx, providerSubscription(sub))

	case external.EventSubUpdated:
		sub, err := event.subscription()
		if err != nil {
			return err
		}
		return h.lifecycle.SubscriptionUpdated(ctx, providerSubscription(sub), event.eventTimestamp())

	case external.EventSubDeleted:
		sub, err := event.subscription()
		if err != nil {
			return err
		}
		return h.lifecycle.SubscriptionDeleted(ctx, sub.ID, event.eventTimestamp())

	case external.EventInvoicePaid:
		return h.handleInvoicePaid(ctx, event)

	case external.EventInvoiceFailed:
		inv, err := event.invoice()
		if err != nil {
			return err
		}
		if inv.Subscription == "" {
			h.logger.WarnContext(ctx, "invoice failure event without subscription, ignored",
				"event_id", event.ID,
			)
			return nil
		}
		return h.lifecycle.InvoicePaymentFailed(ctx, inv.Subscription, event.eventTimestamp())

	default:
		return nil
	}
}

// handleCheckoutCompleted routes a completed checkout either to slot
// admission (slot purchases carry slot_id metadata) or to account
// activation.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *webhookEvent) error {
	session, err := event.checkoutSession()
	if err != nil {
		return err
	}

	if slotID := session.Metadata[metaSlotID]; slotID != "" {
		result, err := h.slots.OnSlotPaid(ctx, slotID)
		if err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "slot payment processed",
			"event_id", event.ID,
			"slot_id", slotID,
			"result", string(result),
		)
		return nil
	}

	tenantID := session.tenantID()
	if tenantID == "" {
		return types.NewAppError(
			types.ErrCodeEventPayloadMalformed,
			"checkout session carries no tenant reference",
			nil,
		)
	}
	return h.lifecycle.CheckoutCompleted(ctx, tenantID, session.Metadata[metaUserID], session.Subscription)
}

// handleInvoicePaid builds the payment record the state machine consumes.
func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event *webhookEvent) error {
	inv, err := event.invoice()
	if err != nil {
		return err
	}
	if inv.Subscription == "" {
		h.logger.WarnContext(ctx, "invoice paid event without subscription, ignored",
			"event_id", event.ID,
		)
		return nil
	}

	return h.lifecycle.InvoicePaymentSucceeded(ctx, &types.InvoicePayment{
		ExternalSubscriptionID: inv.Subscription,
		ExternalInvoiceID:      inv.ID,
		AmountCents:            inv.AmountPaid,
		Currency:               inv.Currency,
		PaidAt:                 event.eventTimestamp(),
		NextPaymentDate:        time.Unix(inv.PeriodEnd, 0).UTC(),
	})
}

// providerSubscription maps the decoded event object onto the external
// representation the state machine consumes.
func providerSubscription(sub *subscriptionObj) *external.ProviderSubscription {
	return &external.ProviderSubscription{
		ID:                 sub.ID,
		CustomerID:         sub.Customer,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
}

// isRetryable reports whether a dispatch failure should surface as a 5xx so
// the provider redelivers. Unknown error types are treated as transient.
func isRetryable(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code.IsRetryable()
	}
	return true
}
