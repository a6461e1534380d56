package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketfront/internal/external"
	"marketfront/internal/types"
)

// --- Mocks ---

type mockSubStore struct {
	mock.Mock
}

func (m *mockSubStore) Create(ctx context.Context, sub *types.Subscription) (bool, error) {
	args := m.Called(ctx, sub)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubStore) CreateWithActivation(ctx context.Context, sub *types.Subscription) (bool, error) {
	args := m.Called(ctx, sub)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubStore) GetByExternalID(ctx context.Context, externalID string) (*types.Subscription, error) {
	args := m.Called(ctx, externalID)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubStore) UpdateStatus(ctx context.Context, externalID string, status types.SubscriptionStatus, eventTime time.Time) (bool, error) {
	args := m.Called(ctx, externalID, status, eventTime)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubStore) RecordPaymentSuccess(ctx context.Context, externalID string, paidAt, nextPaymentAt time.Time) error {
	args := m.Called(ctx, externalID, paidAt, nextPaymentAt)
	return args.Error(0)
}

func (m *mockSubStore) RecordPaymentFailure(ctx context.Context, externalID string, eventTime time.Time) error {
	args := m.Called(ctx, externalID, eventTime)
	return args.Error(0)
}

func (m *mockSubStore) InsertReceipt(ctx context.Context, receipt *types.Receipt) (bool, error) {
	args := m.Called(ctx, receipt)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubStore) ApplyPendingCredits(ctx context.Context, userID, invoiceID string) ([]types.RewardCredit, error) {
	args := m.Called(ctx, userID, invoiceID)
	if c := args.Get(0); c != nil {
		return c.([]types.RewardCredit), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAccountStore struct {
	mock.Mock
}

func (m *mockAccountStore) ActivateAccount(ctx context.Context, tenantID, userID string) error {
	args := m.Called(ctx, tenantID, userID)
	return args.Error(0)
}

func (m *mockAccountStore) SetUserEmailEnabled(ctx context.Context, userID string, enabled bool) error {
	args := m.Called(ctx, userID, enabled)
	return args.Error(0)
}

func (m *mockAccountStore) SuspendTenant(ctx context.Context, tenantID string) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

type mockCascade struct {
	mock.Mock
}

func (m *mockCascade) OnQualifyingPayment(ctx context.Context, userID, subscriptionID, membershipID, paymentID string) error {
	args := m.Called(ctx, userID, subscriptionID, membershipID, paymentID)
	return args.Error(0)
}

func (m *mockCascade) OnSubscriptionCancelled(ctx context.Context, userID, subscriptionID string) error {
	args := m.Called(ctx, userID, subscriptionID)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) error {
	args := m.Called(ctx, kind, tenantID, userID, data)
	return args.Error(0)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*external.ProviderInvoice, error) {
	args := m.Called(ctx, invoiceID)
	if inv := args.Get(0); inv != nil {
		return inv.(*external.ProviderInvoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*external.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if s := args.Get(0); s != nil {
		return s.(*external.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ExtendBillingPeriod(ctx context.Context, subscriptionID string, days int) error {
	args := m.Called(ctx, subscriptionID, days)
	return args.Error(0)
}

type fixture struct {
	subs      *mockSubStore
	accounts  *mockAccountStore
	referrals *mockCascade
	notifier  *mockNotifier
	provider  *mockProvider
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		subs:      new(mockSubStore),
		accounts:  new(mockAccountStore),
		referrals: new(mockCascade),
		notifier:  new(mockNotifier),
		provider:  new(mockProvider),
	}
	f.svc = NewService(f.subs, f.accounts, f.referrals, f.notifier, f.provider, nil)
	return f
}

func providerSub(status string, metadata map[string]string) *external.ProviderSubscription {
	now := time.Now().UTC()
	return &external.ProviderSubscription{
		ID:                 "sub_ext_1",
		CustomerID:         "cus_1",
		Status:             status,
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
		Metadata:           metadata,
	}
}

func notFoundErr() error {
	return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
}

// --- SubscriptionCreated ---

func TestSubscriptionCreated_RegistrationActivatesAtomically(t *testing.T) {
	f := newFixture()

	psub := providerSub("active", map[string]string{
		MetaTenantID:     "tenant_1",
		MetaUserID:       "user_1",
		MetaRegistration: "true",
	})

	f.subs.On("CreateWithActivation", mock.Anything, mock.MatchedBy(func(sub *types.Subscription) bool {
		return sub.TenantID == "tenant_1" && sub.UserID == "user_1" && sub.Status == types.SubStatusActive
	})).Return(true, nil)

	require.NoError(t, f.svc.SubscriptionCreated(context.Background(), psub))
	f.subs.AssertExpectations(t)
	f.referrals.AssertNotCalled(t, "OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionCreated_NonRegistrationTriggersAttribution(t *testing.T) {
	f := newFixture()

	psub := providerSub("trialing", map[string]string{
		MetaTenantID:     "tenant_1",
		MetaUserID:       "user_1",
		MetaMembershipID: "basic",
	})

	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(sub *types.Subscription) bool {
		return sub.Status == types.SubStatusTrialing
	})).Return(true, nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, "user_1", mock.AnythingOfType("string"), "basic", "sub_ext_1").
		Return(nil)

	require.NoError(t, f.svc.SubscriptionCreated(context.Background(), psub))
	f.referrals.AssertExpectations(t)
}

func TestSubscriptionCreated_ReplaySkipsAttribution(t *testing.T) {
	f := newFixture()

	psub := providerSub("active", map[string]string{MetaUserID: "user_1"})
	f.subs.On("Create", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.svc.SubscriptionCreated(context.Background(), psub))
	f.referrals.AssertNotCalled(t, "OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionCreated_AttributionFailureDoesNotFailEvent(t *testing.T) {
	f := newFixture()

	psub := providerSub("active", map[string]string{MetaUserID: "user_1"})
	f.subs.On("Create", mock.Anything, mock.Anything).Return(true, nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("attribution store down"))

	require.NoError(t, f.svc.SubscriptionCreated(context.Background(), psub))
}

// --- SubscriptionUpdated ---

func TestSubscriptionUpdated_StaleEventStopsEarly(t *testing.T) {
	f := newFixture()

	eventTime := time.Now().UTC()
	f.subs.On("UpdateStatus", mock.Anything, "sub_ext_1", types.SubStatusActive, eventTime).
		Return(false, nil)

	psub := providerSub("active", nil)
	require.NoError(t, f.svc.SubscriptionUpdated(context.Background(), psub, eventTime))
	f.subs.AssertNotCalled(t, "GetByExternalID", mock.Anything, mock.Anything)
}

func TestSubscriptionUpdated_PastDueDisablesEmail(t *testing.T) {
	f := newFixture()

	eventTime := time.Now().UTC()
	f.subs.On("UpdateStatus", mock.Anything, "sub_ext_1", types.SubStatusPastDue, eventTime).
		Return(true, nil)
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", TenantID: "tenant_1", UserID: "user_1", Status: types.SubStatusPastDue}, nil)
	f.accounts.On("SetUserEmailEnabled", mock.Anything, "user_1", false).Return(nil)

	psub := providerSub("past_due", nil)
	require.NoError(t, f.svc.SubscriptionUpdated(context.Background(), psub, eventTime))
	f.accounts.AssertExpectations(t)
}

// --- SubscriptionDeleted ---

func TestSubscriptionDeleted_CascadesReferralsAndTasks(t *testing.T) {
	f := newFixture()

	eventTime := time.Now().UTC()
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", TenantID: "tenant_1", UserID: "user_1"}, nil)
	f.subs.On("UpdateStatus", mock.Anything, "sub_ext_1", types.SubStatusCancelled, eventTime).
		Return(true, nil)
	f.referrals.On("OnSubscriptionCancelled", mock.Anything, "user_1", "sub_1").Return(nil)
	f.accounts.On("SetUserEmailEnabled", mock.Anything, "user_1", false).Return(nil)

	require.NoError(t, f.svc.SubscriptionDeleted(context.Background(), "sub_ext_1", eventTime))
	f.referrals.AssertExpectations(t)
}

func TestSubscriptionDeleted_UnknownSubscriptionIsNoOp(t *testing.T) {
	f := newFixture()

	f.subs.On("GetByExternalID", mock.Anything, "sub_missing").Return(nil, notFoundErr())

	require.NoError(t, f.svc.SubscriptionDeleted(context.Background(), "sub_missing", time.Now()))
	f.referrals.AssertNotCalled(t, "OnSubscriptionCancelled", mock.Anything, mock.Anything, mock.Anything)
}

// --- InvoicePaymentSucceeded ---

func paidInvoice() *types.InvoicePayment {
	now := time.Now().UTC()
	return &types.InvoicePayment{
		ExternalSubscriptionID: "sub_ext_1",
		ExternalInvoiceID:      "in_1",
		AmountCents:            4900,
		Currency:               "usd",
		PaidAt:                 now,
		NextPaymentDate:        now.AddDate(0, 1, 0),
	}
}

func TestInvoicePaymentSucceeded_ReactivatesPastDue(t *testing.T) {
	f := newFixture()
	payment := paidInvoice()

	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{
			ID: "sub_1", TenantID: "tenant_1", UserID: "user_1", MembershipID: "basic",
			ExternalSubscriptionID: "sub_ext_1", Status: types.SubStatusPastDue, DaysPastDue: 3,
		}, nil)
	f.subs.On("InsertReceipt", mock.Anything, mock.MatchedBy(func(r *types.Receipt) bool {
		return r.ExternalInvoiceID == "in_1" && r.AmountCents == 4900
	})).Return(true, nil)
	f.subs.On("RecordPaymentSuccess", mock.Anything, "sub_ext_1", payment.PaidAt, payment.NextPaymentDate).
		Return(nil)
	f.accounts.On("SetUserEmailEnabled", mock.Anything, "user_1", true).Return(nil)
	f.subs.On("ApplyPendingCredits", mock.Anything, "user_1", "in_1").Return(nil, nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, "user_1", "sub_1", "basic", "in_1").Return(nil)
	f.notifier.On("Notify", mock.Anything, types.NotifyAccountReactivated, "tenant_1", "user_1", mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, types.NotifyPaymentReceipt, "tenant_1", "user_1", mock.Anything).Return(nil)

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), payment))
	f.subs.AssertExpectations(t)
	f.accounts.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestInvoicePaymentSucceeded_CancelledIsNotReactivated(t *testing.T) {
	f := newFixture()
	payment := paidInvoice()

	// cancelled is terminal: a late invoice event records the receipt and the
	// payment dates but must not resurrect the subscription or re-enable the
	// account.
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{
			ID: "sub_1", TenantID: "tenant_1", UserID: "user_1", MembershipID: "basic",
			ExternalSubscriptionID: "sub_ext_1", Status: types.SubStatusCancelled,
		}, nil)
	f.subs.On("InsertReceipt", mock.Anything, mock.Anything).Return(true, nil)
	f.subs.On("RecordPaymentSuccess", mock.Anything, "sub_ext_1", payment.PaidAt, payment.NextPaymentDate).
		Return(nil)
	f.subs.On("ApplyPendingCredits", mock.Anything, "user_1", "in_1").Return(nil, nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, "user_1", "sub_1", "basic", "in_1").Return(nil)
	f.notifier.On("Notify", mock.Anything, types.NotifyPaymentReceipt, "tenant_1", "user_1", mock.Anything).Return(nil)

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), payment))
	f.accounts.AssertNotCalled(t, "SetUserEmailEnabled", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, types.NotifyAccountReactivated, mock.Anything, mock.Anything, mock.Anything)
}

func TestInvoicePaymentSucceeded_DuplicateInvoiceShortCircuits(t *testing.T) {
	f := newFixture()

	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", UserID: "user_1", Status: types.SubStatusActive}, nil)
	f.subs.On("InsertReceipt", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), paidInvoice()))
	f.subs.AssertNotCalled(t, "RecordPaymentSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.referrals.AssertNotCalled(t, "OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInvoicePaymentSucceeded_UnknownSubscriptionIsNoOp(t *testing.T) {
	f := newFixture()

	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").Return(nil, notFoundErr())

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), paidInvoice()))
	f.subs.AssertNotCalled(t, "InsertReceipt", mock.Anything, mock.Anything)
}

func TestInvoicePaymentSucceeded_FreeMonthCreditExtendsPeriod(t *testing.T) {
	f := newFixture()
	payment := paidInvoice()

	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{
			ID: "sub_1", TenantID: "tenant_1", UserID: "user_1",
			ExternalSubscriptionID: "sub_ext_1", Status: types.SubStatusActive,
		}, nil)
	f.subs.On("InsertReceipt", mock.Anything, mock.Anything).Return(true, nil)
	f.subs.On("RecordPaymentSuccess", mock.Anything, "sub_ext_1", mock.Anything, mock.Anything).Return(nil)
	f.subs.On("ApplyPendingCredits", mock.Anything, "user_1", "in_1").
		Return([]types.RewardCredit{
			{ID: "credit_1", UserID: "user_1", Kind: types.RewardCreditFreeMonth, Status: types.RewardCreditApplied},
			{ID: "credit_2", UserID: "user_1", Kind: types.RewardCreditDiscount, Status: types.RewardCreditApplied},
		}, nil)
	f.provider.On("ExtendBillingPeriod", mock.Anything, "sub_ext_1", freeMonthDays).Return(nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, types.NotifyPaymentReceipt, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), payment))
	// Only the free month extends the billing period; the discount does not.
	f.provider.AssertNumberOfCalls(t, "ExtendBillingPeriod", 1)
}

func TestInvoicePaymentSucceeded_NotificationFailureDoesNotFailEvent(t *testing.T) {
	f := newFixture()

	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", TenantID: "tenant_1", UserID: "user_1", ExternalSubscriptionID: "sub_ext_1", Status: types.SubStatusActive}, nil)
	f.subs.On("InsertReceipt", mock.Anything, mock.Anything).Return(true, nil)
	f.subs.On("RecordPaymentSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.subs.On("ApplyPendingCredits", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.referrals.On("OnQualifyingPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("sqs unavailable"))

	require.NoError(t, f.svc.InvoicePaymentSucceeded(context.Background(), paidInvoice()))
}

// --- InvoicePaymentFailed ---

func TestInvoicePaymentFailed_RecordsDunning(t *testing.T) {
	f := newFixture()

	eventTime := time.Now().UTC()
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", TenantID: "tenant_1", UserID: "user_1"}, nil)
	f.subs.On("RecordPaymentFailure", mock.Anything, "sub_ext_1", eventTime).Return(nil)
	f.notifier.On("Notify", mock.Anything, types.NotifyPaymentFailed, "tenant_1", "user_1", mock.Anything).Return(nil)

	require.NoError(t, f.svc.InvoicePaymentFailed(context.Background(), "sub_ext_1", eventTime))
	f.subs.AssertExpectations(t)
}

// --- CheckoutCompleted ---

func TestCheckoutCompleted_ActivatesUnconditionally(t *testing.T) {
	f := newFixture()

	// Activation happens even though the local subscription row already
	// exists in a non-active state.
	f.accounts.On("ActivateAccount", mock.Anything, "tenant_1", "user_1").Return(nil)
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").
		Return(&types.Subscription{ID: "sub_1", Status: types.SubStatusIncomplete}, nil)

	require.NoError(t, f.svc.CheckoutCompleted(context.Background(), "tenant_1", "user_1", "sub_ext_1"))
	f.accounts.AssertExpectations(t)
	f.provider.AssertNotCalled(t, "RetrieveSubscription", mock.Anything, mock.Anything)
}

func TestCheckoutCompleted_ReconcilesMissingSubscription(t *testing.T) {
	f := newFixture()

	f.accounts.On("ActivateAccount", mock.Anything, "tenant_1", "user_1").Return(nil)
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").Return(nil, notFoundErr())
	f.provider.On("RetrieveSubscription", mock.Anything, "sub_ext_1").
		Return(providerSub("active", nil), nil)
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(sub *types.Subscription) bool {
		return sub.TenantID == "tenant_1" && sub.UserID == "user_1"
	})).Return(true, nil)

	require.NoError(t, f.svc.CheckoutCompleted(context.Background(), "tenant_1", "user_1", "sub_ext_1"))
	f.subs.AssertExpectations(t)
}

func TestCheckoutCompleted_ProviderFailureStillActivates(t *testing.T) {
	f := newFixture()

	f.accounts.On("ActivateAccount", mock.Anything, "tenant_1", "user_1").Return(nil)
	f.subs.On("GetByExternalID", mock.Anything, "sub_ext_1").Return(nil, notFoundErr())
	f.provider.On("RetrieveSubscription", mock.Anything, "sub_ext_1").
		Return(nil, types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", nil))

	require.NoError(t, f.svc.CheckoutCompleted(context.Background(), "tenant_1", "user_1", "sub_ext_1"))
	f.accounts.AssertExpectations(t)
}

// --- Status mapping ---

func TestMapProviderStatus_Table(t *testing.T) {
	cases := map[string]types.SubscriptionStatus{
		"active":             types.SubStatusActive,
		"trialing":           types.SubStatusTrialing,
		"incomplete":         types.SubStatusIncomplete,
		"past_due":           types.SubStatusPastDue,
		"unpaid":             types.SubStatusPastDue,
		"canceled":           types.SubStatusCancelled,
		"incomplete_expired": types.SubStatusCancelled,
	}
	for provider, want := range cases {
		assert.Equal(t, want, types.MapProviderStatus(provider), "provider status %q", provider)
	}
}
