package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/subsync-io/subsync/pkg/billing"
)

func newTestReconciler(store billing.Store, provider billing.PaymentProvider, opts ...billing.ReconcilerOption) *billing.Reconciler {
	catalog := newTestCatalog()
	resolver := billing.NewCustomerResolver(store, provider, catalog, nil)
	return billing.NewReconciler(store, provider, resolver, catalog, nil, opts...)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestApplyCheckoutCompletedCreatesActiveRecord(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	periodStart := time.Now().UTC().Truncate(time.Second)
	periodEnd := periodStart.AddDate(0, 1, 0)

	provider.On("GetSubscription", mock.Anything, "sub_1").Return(&billing.ProviderSubscription{
		ID:          "sub_1",
		CustomerID:  "cus_1",
		Status:      "active",
		PriceID:     "price_pro_monthly",
		PeriodStart: timePtr(periodStart),
		PeriodEnd:   timePtr(periodEnd),
	}, nil)

	err := reconciler.Apply(context.Background(), &billing.Event{
		ID:             "evt_1",
		Type:           billing.EventCheckoutCompleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		UserID:         userID.String(),
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.TierPro, rec.Tier)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", rec.ExternalCustomerID)
	require.NotNil(t, rec.CurrentPeriodStart)
	assert.Equal(t, periodStart, *rec.CurrentPeriodStart)
	assert.Equal(t, newTestCatalog().Limits(billing.TierPro), rec.Limits)
	assert.Nil(t, rec.TrialStartedAt)
}

func TestApplyCheckoutCompletedTrialing(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	trialStart := time.Now().UTC().Truncate(time.Second)
	trialEnd := trialStart.AddDate(0, 0, 14)

	provider.On("GetSubscription", mock.Anything, "sub_t").Return(&billing.ProviderSubscription{
		ID:         "sub_t",
		CustomerID: "cus_t",
		Status:     "trialing",
		PriceID:    "price_pro_monthly",
		TrialStart: timePtr(trialStart),
		TrialEnd:   timePtr(trialEnd),
	}, nil)

	err := reconciler.Apply(context.Background(), &billing.Event{
		ID:             "evt_t",
		Type:           billing.EventCheckoutCompleted,
		SubscriptionID: "sub_t",
		UserID:         userID.String(),
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, rec.Status)
	require.NotNil(t, rec.TrialEndsAt)
	assert.Equal(t, trialEnd, *rec.TrialEndsAt)
	assert.True(t, rec.TrialDaysRemainingAt(trialStart) > 0)
}

func TestApplyCheckoutCompletedSupersedesCanceled(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_old",
		Tier:                   billing.TierBasic,
		Status:                 billing.StatusCanceled,
	}))

	provider.On("GetSubscription", mock.Anything, "sub_new").Return(&billing.ProviderSubscription{
		ID:         "sub_new",
		CustomerID: "cus_1",
		Status:     "active",
		PriceID:    "price_enterprise_monthly",
	}, nil)

	err := reconciler.Apply(context.Background(), &billing.Event{
		ID:             "evt_2",
		Type:           billing.EventCheckoutCompleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_new",
		UserID:         userID.String(),
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "sub_new", rec.ExternalSubscriptionID)
	assert.Equal(t, billing.TierEnterprise, rec.Tier)
	assert.Equal(t, billing.StatusActive, rec.Status)
}

func TestApplySubscriptionUpdatedIdempotent(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierBasic,
		Status:                 billing.StatusActive,
	}))

	ev := &billing.Event{
		Type:           billing.EventSubscriptionUpdated,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_pro_monthly",
	}

	require.NoError(t, reconciler.Apply(context.Background(), ev))
	first, err := store.Get(context.Background(), userID)
	require.NoError(t, err)

	// Re-applying the same event leaves the record in the same state.
	require.NoError(t, reconciler.Apply(context.Background(), ev))
	second, err := store.Get(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Limits, second.Limits)
	assert.Equal(t, billing.TierPro, second.Tier)
}

func TestApplySubscriptionUpdatedCanceledIsTerminal(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusCanceled,
	}))

	// A late update for the same canceled subscription must not revive it.
	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionUpdated,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_pro_monthly",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.Status)
}

func TestApplySubscriptionUpdatedUnknownPriceDefaultsLow(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierEnterprise,
		Status:                 billing.StatusActive,
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionUpdated,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_mystery",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.TierBasic, rec.Tier)
	assert.Equal(t, newTestCatalog().Limits(billing.TierBasic), rec.Limits)
}

func TestApplySubscriptionDeleted(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
		CurrentPeriodStart:     timePtr(now),
		CurrentPeriodEnd:       timePtr(now.AddDate(0, 1, 0)),
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionDeleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.Status)
	assert.Nil(t, rec.CurrentPeriodStart)
	assert.Nil(t, rec.CurrentPeriodEnd)
	// Default keeps the tier for support visibility; limits still follow it.
	assert.Equal(t, billing.TierPro, rec.Tier)
	assert.Equal(t, newTestCatalog().Limits(billing.TierPro), rec.Limits)
}

func TestApplySubscriptionDeletedDowngradeOnCancel(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider, billing.WithDowngradeOnCancel())

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierEnterprise,
		Status:                 billing.StatusActive,
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionDeleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.TierBasic, rec.Tier)
	assert.Equal(t, newTestCatalog().Limits(billing.TierBasic), rec.Limits)
}

func TestApplySubscriptionDeletedStaleSuperseded(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_new",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
	}))

	// Deletion of the superseded subscription must not cancel the new one.
	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionDeleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_old",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.Equal(t, "sub_new", rec.ExternalSubscriptionID)
}

func TestApplySubscriptionDeletedAlreadyCanceled(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusCanceled,
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionDeleted,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.Status)
}

func TestApplyPaymentSucceededUpdatesPeriod(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	oldStart := time.Now().UTC().AddDate(0, -1, 0).Truncate(time.Second)
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
		CurrentPeriodStart:     timePtr(oldStart),
		CurrentPeriodEnd:       timePtr(oldStart.AddDate(0, 1, 0)),
	}))

	newStart := time.Now().UTC().Truncate(time.Second)
	newEnd := newStart.AddDate(0, 1, 0)

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventPaymentSucceeded,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		PeriodStart:    timePtr(newStart),
		PeriodEnd:      timePtr(newEnd),
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentPeriodStart)
	assert.Equal(t, newStart, *rec.CurrentPeriodStart)
	assert.Equal(t, newEnd, *rec.CurrentPeriodEnd)
	provider.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
}

func TestApplyPaymentSucceededFetchesMissingBounds(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
	}))

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	provider.On("GetSubscription", mock.Anything, "sub_1").Return(&billing.ProviderSubscription{
		ID:          "sub_1",
		CustomerID:  "cus_1",
		Status:      "active",
		PriceID:     "price_pro_monthly",
		PeriodStart: timePtr(start),
		PeriodEnd:   timePtr(end),
	}, nil)

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventPaymentSucceeded,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, end, *rec.CurrentPeriodEnd)
	provider.AssertExpectations(t)
}

func TestApplyPaymentSucceededSubscriptionMismatchDropped(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	start := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_current",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
		CurrentPeriodStart:     timePtr(start),
		CurrentPeriodEnd:       timePtr(start.AddDate(0, 1, 0)),
	}))

	// A payment for a different subscription must never write its period
	// bounds onto the stored lifecycle.
	otherStart := start.AddDate(0, 2, 0)
	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventPaymentSucceeded,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_other",
		PeriodStart:    timePtr(otherStart),
		PeriodEnd:      timePtr(otherStart.AddDate(0, 1, 0)),
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, start, *rec.CurrentPeriodStart)
}

func TestApplyPaymentSucceededWithoutSubscriptionIsNoop(t *testing.T) {
	t.Parallel()

	provider := new(mockProvider)
	reconciler := newTestReconciler(billing.NewMemoryStore(), provider)

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:       billing.EventPaymentSucceeded,
		CustomerID: "cus_1",
	})
	require.NoError(t, err)
	provider.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
}

func TestApplyPaymentFailed(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusActive,
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventPaymentFailed,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, rec.Status)
	// Grace period: tier and limits stay until deletion arrives.
	assert.Equal(t, billing.TierPro, rec.Tier)
	assert.Equal(t, newTestCatalog().Limits(billing.TierPro), rec.Limits)
}

func TestApplyPaymentFailedOnCanceledDropped(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierPro,
		Status:                 billing.StatusCanceled,
	}))

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventPaymentFailed,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.Status)
}

func TestApplyDedupSkipsRedelivery(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider, billing.WithDeduper(billing.NewMemoryDeduper()))

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		Tier:                   billing.TierBasic,
		Status:                 billing.StatusActive,
	}))

	ev := &billing.Event{
		ID:             "evt_dup",
		Type:           billing.EventSubscriptionUpdated,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_pro_monthly",
	}

	require.NoError(t, reconciler.Apply(context.Background(), ev))
	first, err := store.Get(context.Background(), userID)
	require.NoError(t, err)

	require.NoError(t, reconciler.Apply(context.Background(), ev))
	second, err := store.Get(context.Background(), userID)
	require.NoError(t, err)

	// The redelivery was short-circuited: no second write happened.
	assert.Equal(t, first.Version, second.Version)
}

func TestApplyUnresolvableUser(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	provider.On("LookupCustomerUserID", mock.Anything, "cus_stranger").
		Return("", billing.ErrUserNotResolved)

	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionUpdated,
		CustomerID:     "cus_stranger",
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_pro_monthly",
	})
	assert.ErrorIs(t, err, billing.ErrUserNotResolved)
}

func TestApplyUpdatedWithoutRecordDropped(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	provider := new(mockProvider)
	reconciler := newTestReconciler(store, provider)

	// User resolvable via metadata, but no local record exists and updates
	// may not create one.
	userID := uuid.New()
	err := reconciler.Apply(context.Background(), &billing.Event{
		Type:           billing.EventSubscriptionUpdated,
		UserID:         userID.String(),
		SubscriptionID: "sub_1",
		Status:         "active",
		PriceID:        "price_pro_monthly",
	})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), userID)
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}

func TestApplyNilAndUnknownEvents(t *testing.T) {
	t.Parallel()

	reconciler := newTestReconciler(billing.NewMemoryStore(), new(mockProvider))

	assert.NoError(t, reconciler.Apply(context.Background(), nil))
	assert.NoError(t, reconciler.Apply(context.Background(), &billing.Event{Type: billing.EventUnknown}))
}

func TestMapProviderStatusViaUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		want     billing.Status
	}{
		{"trialing", billing.StatusTrialing},
		{"active", billing.StatusActive},
		{"past_due", billing.StatusPastDue},
		{"unpaid", billing.StatusPastDue},
		{"incomplete", billing.StatusIncomplete},
		{"incomplete_expired", billing.StatusIncomplete},
		{"paused", billing.StatusIncomplete}, // unknown statuses land conservative
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()

			store := billing.NewMemoryStore()
			reconciler := newTestReconciler(store, new(mockProvider))

			userID := uuid.New()
			require.NoError(t, store.Save(context.Background(), &billing.UserBillingRecord{
				UserID:                 userID,
				ExternalCustomerID:     "cus_1",
				ExternalSubscriptionID: "sub_1",
				Tier:                   billing.TierPro,
				Status:                 billing.StatusActive,
			}))

			err := reconciler.Apply(context.Background(), &billing.Event{
				Type:           billing.EventSubscriptionUpdated,
				CustomerID:     "cus_1",
				SubscriptionID: "sub_1",
				Status:         tt.provider,
				PriceID:        "price_pro_monthly",
			})
			require.NoError(t, err)

			rec, err := store.Get(context.Background(), userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)
		})
	}
}
