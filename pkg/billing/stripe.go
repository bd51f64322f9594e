package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// userIDMetadataKey is the metadata tag carried on external customers,
// checkout sessions, and subscriptions to link them back to an internal user.
const userIDMetadataKey = "user_id"

// StripeConfig holds configuration for the Stripe payment provider.
// Credentials are supplied out-of-band via environment, never hardcoded.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements PaymentProvider for Stripe.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a Stripe payment provider. It sets the package
// global API key, matching how the stripe-go resource clients resolve
// credentials.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	stripe.Key = config.APIKey

	return &StripeProvider{webhookSecret: config.WebhookSecret}, nil
}

// CreateCustomer creates a Stripe customer tagged with the internal user ID.
// The idempotency key is derived from the user ID so a retried create after a
// failed local persist collapses into the original customer.
func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("customer-create-" + userID)
	params.AddMetadata(userIDMetadataKey, userID)
	if email != "" {
		params.Email = stripe.String(email)
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", stripeErr("create customer", err)
	}
	return cust.ID, nil
}

// LookupCustomerUserID reads the user-id tag from a Stripe customer's
// metadata. This is the resolver's fallback path for the window between
// customer creation and the local index write.
func (p *StripeProvider) LookupCustomerUserID(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := customer.Get(customerID, params)
	if err != nil {
		return "", stripeErr("get customer", err)
	}
	userID, ok := cust.Metadata[userIDMetadataKey]
	if !ok || userID == "" {
		return "", ErrUserNotResolved
	}
	return userID, nil
}

// CreateCheckoutSession starts a subscription-mode hosted checkout. The user
// ID is tagged on the session (client reference + metadata) and forwarded to
// the resulting subscription's metadata.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{userIDMetadataKey: req.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(userIDMetadataKey, req.UserID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, stripeErr("create checkout session", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	out := &CheckoutSession{
		SessionID:   sess.ID,
		RedirectURL: sess.URL,
	}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// CreatePortalSession starts a hosted customer-portal session.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, stripeErr("create portal session", err)
	}
	if sess.URL == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalSession{
		RedirectURL: sess.URL,
		// Stripe does not expose portal-session expiry; links are short-lived.
		ExpiresAt: time.Now().Add(5 * time.Minute).UTC(),
	}, nil
}

// GetSubscription retrieves subscription detail from Stripe and reduces it to
// the reconciler's view.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := stripesub.Get(subscriptionID, params)
	if err != nil {
		return nil, stripeErr("get subscription", err)
	}

	out := &ProviderSubscription{
		ID:         sub.ID,
		Status:     string(sub.Status),
		TrialStart: unixTime(sub.TrialStart),
		TrialEnd:   unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Period bounds live on the subscription item since the Basil API.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.PeriodStart = unixTime(item.CurrentPeriodStart)
		out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return out, nil
}

// ParseWebhook verifies the Stripe-Signature header against the shared secret
// and normalizes the event. Verification happens inside ConstructEvent before
// the payload is interpreted; any failure there rejects the delivery.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	// Endpoints pinned to an older API version deliver a mismatched
	// api_version; the signature still verifies, and the normalization below
	// tolerates both payload layouts.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	event := &Event{
		ID:            stripeEvent.ID,
		ProviderEvent: string(stripeEvent.Type),
		Type:          EventUnknown,
	}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("parse checkout session payload: %w", err)
		}
		// Payment-mode checkouts have no subscription lifecycle to sync.
		if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil {
			return event, nil
		}
		event.Type = EventCheckoutCompleted
		event.SubscriptionID = sess.Subscription.ID
		if sess.Customer != nil {
			event.CustomerID = sess.Customer.ID
		}
		event.UserID = sess.ClientReferenceID
		if event.UserID == "" {
			event.UserID = sess.Metadata[userIDMetadataKey]
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription payload: %w", err)
		}
		if stripeEvent.Type == "customer.subscription.deleted" {
			event.Type = EventSubscriptionDeleted
		} else {
			event.Type = EventSubscriptionUpdated
		}
		event.SubscriptionID = sub.ID
		event.Status = string(sub.Status)
		event.UserID = sub.Metadata[userIDMetadataKey]
		event.TrialStart = unixTime(sub.TrialStart)
		event.TrialEnd = unixTime(sub.TrialEnd)
		if sub.Customer != nil {
			event.CustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 {
			item := sub.Items.Data[0]
			if item.Price != nil {
				event.PriceID = item.Price.ID
			}
			event.PeriodStart = unixTime(item.CurrentPeriodStart)
			event.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		}

	case "invoice.payment_succeeded", "invoice.paid":
		inv, err := parseInvoicePayload(stripeEvent.Data.Raw)
		if err != nil {
			return nil, err
		}
		event.Type = EventPaymentSucceeded
		event.CustomerID = inv.customerID
		event.SubscriptionID = inv.subscriptionID
		event.PeriodStart = inv.periodStart
		event.PeriodEnd = inv.periodEnd

	case "invoice.payment_failed":
		inv, err := parseInvoicePayload(stripeEvent.Data.Raw)
		if err != nil {
			return nil, err
		}
		event.Type = EventPaymentFailed
		event.CustomerID = inv.customerID
		event.SubscriptionID = inv.subscriptionID
	}

	return event, nil
}

type invoiceFields struct {
	customerID     string
	subscriptionID string
	periodStart    *time.Time
	periodEnd      *time.Time
}

// parseInvoicePayload extracts the fields the reconciler needs from an
// invoice event without binding to the SDK's Invoice struct: the subscription
// reference moved under parent.subscription_details in newer API versions
// while older webhook payloads still carry it top-level, and deliveries from
// either version must parse.
func parseInvoicePayload(raw json.RawMessage) (*invoiceFields, error) {
	var inv struct {
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
		Lines struct {
			Data []struct {
				Period struct {
					Start int64 `json:"start"`
					End   int64 `json:"end"`
				} `json:"period"`
			} `json:"data"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice payload: %w", err)
	}

	out := &invoiceFields{
		customerID:     inv.Customer,
		subscriptionID: inv.Subscription,
	}
	if out.subscriptionID == "" {
		out.subscriptionID = inv.Parent.SubscriptionDetails.Subscription
	}
	if len(inv.Lines.Data) > 0 {
		period := inv.Lines.Data[0].Period
		out.periodStart = unixTime(period.Start)
		out.periodEnd = unixTime(period.End)
	}
	return out, nil
}

// stripeErr classifies a Stripe API failure. Server-side and rate-limit
// responses, timeouts, and connection errors surface as transient so the
// enclosing operation is retried; everything else is a hard failure.
func stripeErr(op string, err error) error {
	var apiErr *stripe.Error
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return fmt.Errorf("stripe: %s: %w", op, err)
		}
	}
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("stripe: %s: %w", op, err))
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
