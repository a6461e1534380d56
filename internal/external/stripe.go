package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"marketfront/internal/types"
)

// stripeAPIBase is the default Stripe API base URL, overridable in tests.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingProvider by calling the Stripe REST API
// through the BaseClient, so all provider calls share the platform's circuit
// breaker and retry behavior and tests can point at an httptest server.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with the standard resilience
// settings.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	return NewStripeClientWithBase(
		NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "Marketfront/1.0"),
		cfg,
	)
}

// NewStripeClientWithBase creates a StripeClient around a pre-configured
// BaseClient. Tests use this to control retry and sleep behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// stripeInvoice mirrors the invoice fields the orchestrator reads.
type stripeInvoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	PeriodEnd    int64  `json:"period_end"`
	Paid         bool   `json:"paid"`
}

// stripeSubscription mirrors the subscription fields the orchestrator reads.
type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// RetrieveInvoice fetches an invoice by provider ID.
func (c *StripeClient) RetrieveInvoice(ctx context.Context, invoiceID string) (*ProviderInvoice, error) {
	var inv stripeInvoice
	if err := c.get(ctx, "/v1/invoices/"+url.PathEscape(invoiceID), &inv); err != nil {
		return nil, err
	}
	return &ProviderInvoice{
		ID:             inv.ID,
		SubscriptionID: inv.Subscription,
		CustomerID:     inv.Customer,
		AmountPaid:     inv.AmountPaid,
		Currency:       inv.Currency,
		PeriodEnd:      inv.PeriodEnd,
		Paid:           inv.Paid,
	}, nil
}

// RetrieveSubscription fetches a subscription by provider ID.
func (c *StripeClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	sub, err := c.retrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return providerSubscription(sub), nil
}

func (c *StripeClient) retrieveSubscription(ctx context.Context, subscriptionID string) (*stripeSubscription, error) {
	var sub stripeSubscription
	if err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func providerSubscription(sub *stripeSubscription) *ProviderSubscription {
	return &ProviderSubscription{
		ID:                 sub.ID,
		CustomerID:         sub.Customer,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
}

// ExtendBillingPeriod pushes the subscription's next billing date out by the
// given number of days, without proration. Stripe models this as a trial
// ending at the extended date.
func (c *StripeClient) ExtendBillingPeriod(ctx context.Context, subscriptionID string, days int) error {
	sub, err := c.retrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	extended := time.Unix(sub.CurrentPeriodEnd, 0).UTC().Add(time.Duration(days) * 24 * time.Hour)
	form := url.Values{}
	form.Set("trial_end", strconv.FormatInt(extended.Unix(), 10))
	form.Set("proration_behavior", "none")

	var updated stripeSubscription
	if err := c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, &updated); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "billing period extended",
		"subscription_id", subscriptionID,
		"days", days,
		"new_period_end", extended,
	)
	return nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *StripeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}
	return c.do(req, out)
}

// postForm performs an authenticated form POST and decodes the JSON response
// into out.
func (c *StripeClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *StripeClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, "failed to read stripe response", err)
	}

	if resp.StatusCode >= 400 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("stripe returned %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode stripe response", err)
		}
	}
	return nil
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

var (
	_ BillingProvider = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
