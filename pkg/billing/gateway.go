package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// stripeSignatureHeader carries the webhook signature computed over the raw
// body with the shared secret.
const stripeSignatureHeader = "Stripe-Signature"

// maxWebhookBody caps inbound webhook payloads. Provider events are a few KB;
// anything near this limit is not a legitimate delivery.
const maxWebhookBody = 1 << 20

// Gateway is the unauthenticated entry point for provider webhooks. It
// verifies authenticity before any payload parsing, dispatches known event
// kinds to the reconciler, and acknowledges everything the system has
// legitimately chosen to ignore so the provider does not retry it.
type Gateway struct {
	provider   PaymentProvider
	reconciler *Reconciler
	log        *slog.Logger
}

// NewGateway creates a gateway. Panics on nil dependencies to fail fast
// during initialization.
func NewGateway(provider PaymentProvider, reconciler *Reconciler, log *slog.Logger) *Gateway {
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if reconciler == nil {
		panic("billing: Reconciler is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gateway{provider: provider, reconciler: reconciler, log: log}
}

// HandleInbound processes one webhook delivery. Outcomes:
//
//   - nil: accepted, including events dropped for unknown kind or
//     unresolvable user — the provider must not retry those.
//   - ErrSignatureInvalid (wrapped): rejected before any state mutation.
//   - transient errors: propagated so the delivery is retried with backoff.
func (g *Gateway) HandleInbound(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return errors.Join(ErrSignatureInvalid, errors.New("signature header is missing"))
	}

	ev, err := g.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	if ev.Type == EventUnknown {
		// Forward compatibility: the provider adds event kinds over time.
		g.log.InfoContext(ctx, "ignoring unknown event kind",
			slog.String("event_id", ev.ID), slog.String("provider_event", ev.ProviderEvent))
		return nil
	}

	if err := g.reconciler.Apply(ctx, ev); err != nil {
		if errors.Is(err, ErrUserNotResolved) || errors.Is(err, ErrRecordNotFound) {
			// A data-consistency miss on our side; redelivery cannot fix it.
			g.log.WarnContext(ctx, "dropping event for unresolvable user",
				slog.String("event_id", ev.ID),
				slog.String("event_type", string(ev.Type)),
				slog.String("customer_id", ev.CustomerID))
			return nil
		}
		return err
	}
	return nil
}

// Handler is the HTTP adapter for HandleInbound. The response is two-class:
// 2xx acknowledges, 5xx asks the provider to redeliver; signature failures
// are 400 and are never retried.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = g.HandleInbound(r.Context(), payload, r.Header.Get(stripeSignatureHeader))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrSignatureInvalid):
			g.log.WarnContext(r.Context(), "rejected webhook with invalid signature")
			w.WriteHeader(http.StatusBadRequest)
		case IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
			g.log.ErrorContext(r.Context(), "webhook processing hit transient failure", slog.Any("error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			g.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}
