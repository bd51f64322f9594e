package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// SessionBroker handles the two authenticated request flows that originate
// the subscription lifecycle: checkout-session creation and portal-session
// creation. The user identity always comes from the trust boundary (request
// context), never from client input. The broker never mutates tier or status;
// the billing record only changes when the resulting webhook arrives.
type SessionBroker struct {
	catalog  *Catalog
	resolver *CustomerResolver
	provider PaymentProvider
	store    Store
	log      *slog.Logger
}

// NewSessionBroker creates a broker. Panics on nil dependencies to fail fast
// during initialization.
func NewSessionBroker(catalog *Catalog, resolver *CustomerResolver, provider PaymentProvider, store Store, log *slog.Logger) *SessionBroker {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if resolver == nil {
		panic("billing: CustomerResolver is required")
	}
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SessionBroker{catalog: catalog, resolver: resolver, provider: provider, store: store, log: log}
}

// CreateCheckoutSession validates the plan, finds or creates the external
// customer for the user, and requests a subscription-mode checkout session
// tagged with the user ID. Side effects are limited to the possible customer
// creation; the billing record's tier and status stay untouched until the
// completion webhook.
func (b *SessionBroker) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email string, tier Tier, successURL, cancelURL string) (*CheckoutSession, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if successURL == "" || cancelURL == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("success and cancel URLs are required"))
	}
	priceID, err := b.catalog.PriceID(tier)
	if err != nil {
		return nil, err
	}

	customerID, err := b.resolver.FindOrCreateCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	session, err := b.provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		CustomerID: customerID,
		UserID:     userID.String(),
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}

	b.log.InfoContext(ctx, "created checkout session",
		slog.String("user_id", userID.String()),
		slog.String("tier", string(tier)),
		slog.String("session_id", session.SessionID))
	return session, nil
}

// CreatePortalSession requests a customer-portal session for a user who
// already has a billing relationship. A missing customer link is a genuine
// business error (ErrNoBillingRelationship), surfaced distinctly from
// transient failures so the caller can present an actionable message.
func (b *SessionBroker) CreatePortalSession(ctx context.Context, userID uuid.UUID, returnURL string) (*PortalSession, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if returnURL == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("return URL is required"))
	}

	rec, err := b.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNoBillingRelationship
		}
		return nil, err
	}
	if rec.ExternalCustomerID == "" {
		return nil, ErrNoBillingRelationship
	}

	return b.provider.CreatePortalSession(ctx, rec.ExternalCustomerID, returnURL)
}
