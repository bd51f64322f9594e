package billing_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/subsync-io/subsync/pkg/billing"
)

func newTestCatalog() *billing.Catalog {
	catalog, err := billing.NewCatalog(map[billing.Tier]billing.TierSpec{
		billing.TierBasic: {
			PriceID: "price_basic_monthly",
			Limits: billing.LimitBundle{
				billing.ResourceProjects:    3,
				billing.ResourceTeamMembers: 1,
				billing.ResourceAPIKeys:     2,
				billing.ResourceStorage:     1,
			},
		},
		billing.TierPro: {
			PriceID: "price_pro_monthly",
			Limits: billing.LimitBundle{
				billing.ResourceProjects:    25,
				billing.ResourceTeamMembers: 10,
				billing.ResourceAPIKeys:     20,
				billing.ResourceStorage:     100,
			},
		},
		billing.TierEnterprise: {
			PriceID: "price_enterprise_monthly",
			Limits: billing.LimitBundle{
				billing.ResourceProjects:    billing.Unlimited,
				billing.ResourceTeamMembers: billing.Unlimited,
				billing.ResourceAPIKeys:     billing.Unlimited,
				billing.ResourceStorage:     1000,
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	args := m.Called(ctx, userID, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) LookupCustomerUserID(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if session, ok := args.Get(0).(*billing.CheckoutSession); ok {
		return session, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	args := m.Called(ctx, customerID, returnURL)
	if session, ok := args.Get(0).(*billing.PortalSession); ok {
		return session, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if sub, ok := args.Get(0).(*billing.ProviderSubscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(payload, signature)
	if ev, ok := args.Get(0).(*billing.Event); ok {
		return ev, args.Error(1)
	}
	return nil, args.Error(1)
}
