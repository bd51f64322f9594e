package billing

import (
	"context"
	"time"
)

// PaymentProvider is the minimal interface to the external payment processor.
// The abstraction keeps the reconciler and broker testable and avoids vendor
// lock-in; the Stripe implementation lives in stripe.go. Implementations must
// verify webhook signatures in ParseWebhook before touching the payload.
type PaymentProvider interface {
	// CreateCustomer creates an external customer tagged with the internal
	// user ID in its metadata. Implementations must send an idempotency key
	// derived from userID: if persisting the mapping fails after creation,
	// the retry must tolerate (collapse into) the earlier create.
	CreateCustomer(ctx context.Context, userID, email string) (customerID string, err error)

	// LookupCustomerUserID fetches the external customer record and returns
	// the internal user ID tag from its metadata. Returns ErrUserNotResolved
	// when the customer carries no tag.
	LookupCustomerUserID(ctx context.Context, customerID string) (string, error)

	// CreateCheckoutSession starts a subscription-mode hosted checkout.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// CreatePortalSession starts a hosted customer-portal session for an
	// existing customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	// GetSubscription retrieves current subscription detail from the provider.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ParseWebhook verifies the payload signature against the shared secret
	// and returns the normalized event. Verification runs before any parsing
	// of the payload as structured data; a mismatch yields ErrSignatureInvalid.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// CheckoutSessionRequest carries everything needed to start a checkout.
// UserID is tagged into the session metadata: it is the only reliable link
// back to the internal user when the completion event arrives, since the
// customer-to-user index may not be warm yet.
type CheckoutSessionRequest struct {
	CustomerID string
	UserID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a provider-hosted, time-bounded payment collection flow.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// PortalSession is a provider-hosted self-service management flow.
type PortalSession struct {
	RedirectURL string
	ExpiresAt   time.Time
}

// ProviderSubscription is the provider's view of a subscription, reduced to
// the fields the reconciler consumes.
type ProviderSubscription struct {
	ID          string
	CustomerID  string
	Status      string
	PriceID     string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	TrialStart  *time.Time
	TrialEnd    *time.Time
}
