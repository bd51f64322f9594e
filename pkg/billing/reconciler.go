package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Reconciler applies subscription-lifecycle events to user billing records.
// It owns every tier/status write in the system. All transitions are
// idempotent with respect to re-application of the same event, and each is a
// single atomic compare-and-swap so concurrent deliveries for the same user
// serialize without a global lock. Provider fetches happen before the
// read-modify-write loop; no lock or version window spans an outbound call.
type Reconciler struct {
	store             Store
	provider          PaymentProvider
	resolver          *CustomerResolver
	catalog           *Catalog
	deduper           Deduper
	downgradeOnCancel bool
	log               *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDeduper short-circuits redelivered events by provider event ID. Purely
// an optimization: transitions are idempotent without it, so dedup failures
// are fail-open.
func WithDeduper(d Deduper) ReconcilerOption {
	return func(r *Reconciler) { r.deduper = d }
}

// WithDowngradeOnCancel makes subscription deletion drop the record to the
// lowest tier immediately. The default preserves tier and limits on the
// canceled record for support and audit visibility.
func WithDowngradeOnCancel() ReconcilerOption {
	return func(r *Reconciler) { r.downgradeOnCancel = true }
}

// NewReconciler creates a reconciler. Panics on nil required dependencies to
// fail fast during initialization.
func NewReconciler(store Store, provider PaymentProvider, resolver *CustomerResolver, catalog *Catalog, log *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("billing: Store is required")
	}
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if resolver == nil {
		panic("billing: CustomerResolver is required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	r := &Reconciler{
		store:    store,
		provider: provider,
		resolver: resolver,
		catalog:  catalog,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs one event through the transition table. ErrUserNotResolved
// means the event cannot be attributed to a user; the gateway drops it and
// still acknowledges the delivery. Transient errors propagate so the
// provider's retry mechanism redelivers.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	if ev == nil || ev.Type == EventUnknown {
		return nil
	}

	if r.deduper != nil && ev.ID != "" {
		seen, err := r.deduper.Seen(ctx, ev.ID)
		if err != nil {
			// Fail open: transitions are idempotent, a re-application is safe.
			r.log.WarnContext(ctx, "event dedup unavailable",
				slog.String("event_id", ev.ID), slog.Any("error", err))
		} else if seen {
			r.log.DebugContext(ctx, "skipping duplicate event delivery",
				slog.String("event_id", ev.ID), slog.String("event_type", string(ev.Type)))
			return nil
		}
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, ev)
	case EventPaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, ev)
	case EventPaymentFailed:
		return r.applyPaymentFailed(ctx, ev)
	default:
		// Normalized but unhandled kinds are forward-compatibility headroom.
		r.log.InfoContext(ctx, "ignoring unhandled event kind",
			slog.String("event_type", string(ev.Type)), slog.String("provider_event", ev.ProviderEvent))
		return nil
	}
}

// applyCheckoutCompleted activates the record from a completed checkout. The
// user ID comes from session metadata; the subscription detail is fetched
// from the provider because the session payload does not carry tier or
// period information.
func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *Event) error {
	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return err
	}
	if ev.SubscriptionID == "" {
		r.log.WarnContext(ctx, "checkout completed without subscription reference",
			slog.String("user_id", userID.String()))
		return nil
	}

	sub, err := r.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	tier := r.deriveTier(ctx, sub.PriceID)
	status := mapProviderStatus(sub.Status)

	return r.updateRecord(ctx, userID, true, func(rec *UserBillingRecord) bool {
		// A fresh checkout supersedes whatever subscription was stored,
		// including a canceled one; the new subscription ID is a new
		// lifecycle.
		rec.ExternalSubscriptionID = sub.ID
		if rec.ExternalCustomerID == "" {
			rec.ExternalCustomerID = sub.CustomerID
		}
		rec.Tier = tier
		rec.Status = status
		rec.Limits = r.catalog.Limits(tier)
		applyPeriod(rec, sub.PeriodStart, sub.PeriodEnd)
		applyTrial(rec, sub.TrialStart, sub.TrialEnd, status)
		r.logTransition(ctx, rec, ev)
		return true
	})
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev *Event) error {
	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	tier := r.deriveTier(ctx, ev.PriceID)
	status := mapProviderStatus(ev.Status)

	return r.updateRecord(ctx, userID, false, func(rec *UserBillingRecord) bool {
		// Canceled is terminal per subscription ID: only a fresh checkout
		// (new subscription ID) revives the record.
		if rec.Status == StatusCanceled && rec.ExternalSubscriptionID == ev.SubscriptionID {
			r.log.InfoContext(ctx, "dropping update for canceled subscription",
				slog.String("user_id", rec.UserID.String()),
				slog.String("subscription_id", ev.SubscriptionID))
			return false
		}
		rec.ExternalSubscriptionID = ev.SubscriptionID
		rec.Tier = tier
		rec.Status = status
		rec.Limits = r.catalog.Limits(tier)
		applyPeriod(rec, ev.PeriodStart, ev.PeriodEnd)
		applyTrial(rec, ev.TrialStart, ev.TrialEnd, status)
		r.logTransition(ctx, rec, ev)
		return true
	})
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev *Event) error {
	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	return r.updateRecord(ctx, userID, false, func(rec *UserBillingRecord) bool {
		// A deletion for a superseded subscription is stale; the stored one
		// is already a different lifecycle.
		if ev.SubscriptionID != "" && rec.ExternalSubscriptionID != "" &&
			rec.ExternalSubscriptionID != ev.SubscriptionID {
			r.log.InfoContext(ctx, "dropping deletion for superseded subscription",
				slog.String("user_id", rec.UserID.String()),
				slog.String("subscription_id", ev.SubscriptionID))
			return false
		}
		rec.Status = StatusCanceled
		rec.CurrentPeriodStart = nil
		rec.CurrentPeriodEnd = nil
		rec.TrialStartedAt = nil
		rec.TrialEndsAt = nil
		if r.downgradeOnCancel {
			rec.Tier = LowestTier()
		}
		// Tier may have been preserved for support visibility; limits are
		// still recomputed from it so the projection invariant holds.
		rec.Limits = r.catalog.Limits(rec.Tier)
		r.logTransition(ctx, rec, ev)
		return true
	})
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, ev *Event) error {
	if ev.SubscriptionID == "" {
		// One-off invoices carry no subscription reference; nothing to sync.
		return nil
	}
	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	periodStart, periodEnd := ev.PeriodStart, ev.PeriodEnd
	if periodStart == nil || periodEnd == nil {
		sub, err := r.provider.GetSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}
		periodStart, periodEnd = sub.PeriodStart, sub.PeriodEnd
	}

	return r.updateRecord(ctx, userID, false, func(rec *UserBillingRecord) bool {
		// Never mix period bounds across subscriptions: a payment for a
		// superseded or not-yet-recorded subscription is dropped.
		if rec.ExternalSubscriptionID != ev.SubscriptionID {
			return false
		}
		applyPeriod(rec, periodStart, periodEnd)
		r.logTransition(ctx, rec, ev)
		return true
	})
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, ev *Event) error {
	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	return r.updateRecord(ctx, userID, false, func(rec *UserBillingRecord) bool {
		if ev.SubscriptionID != "" && rec.ExternalSubscriptionID != "" &&
			rec.ExternalSubscriptionID != ev.SubscriptionID {
			return false
		}
		if rec.Status == StatusCanceled {
			// Terminal; a failed payment on a canceled subscription changes nothing.
			return false
		}
		rec.Status = StatusPastDue
		r.logTransition(ctx, rec, ev)
		return true
	})
}

// resolveUser attributes an event to an internal user: session metadata tag
// first (the only reliable link right after checkout), then the customer
// index with its provider-metadata fallback.
func (r *Reconciler) resolveUser(ctx context.Context, ev *Event) (uuid.UUID, error) {
	if ev.UserID != "" {
		if userID, err := uuid.Parse(ev.UserID); err == nil {
			return userID, nil
		}
		r.log.WarnContext(ctx, "event carries malformed user tag",
			slog.String("event_id", ev.ID), slog.String("tag", ev.UserID))
	}
	return r.resolver.ResolveUserID(ctx, ev.CustomerID)
}

// updateRecord runs one atomic read-modify-write with optimistic retry on
// version conflicts. The mutate callback returns false to drop the event
// without writing. allowCreate permits first-touch creation (checkout
// completion may arrive before any local record exists).
func (r *Reconciler) updateRecord(ctx context.Context, userID uuid.UUID, allowCreate bool, mutate func(*UserBillingRecord) bool) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec, err := r.store.Get(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				return err
			}
			if !allowCreate {
				r.log.WarnContext(ctx, "dropping event for user without billing record",
					slog.String("user_id", userID.String()))
				return nil
			}
			rec = newBillingRecord(userID, r.catalog)
		}

		if !mutate(rec) {
			return nil
		}

		rec.UpdatedAt = time.Now().UTC()
		if err := r.store.Save(ctx, rec); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (r *Reconciler) deriveTier(ctx context.Context, priceID string) Tier {
	tier, recognized := r.catalog.DeriveTier(priceID)
	if !recognized {
		r.log.WarnContext(ctx, "unrecognized price identifier, defaulting to lowest tier",
			slog.String("price_id", priceID), slog.String("tier", string(tier)))
	}
	return tier
}

func (r *Reconciler) logTransition(ctx context.Context, rec *UserBillingRecord, ev *Event) {
	r.log.InfoContext(ctx, "applied billing transition",
		slog.String("component", "reconciler"),
		slog.String("event_type", string(ev.Type)),
		slog.String("user_id", rec.UserID.String()),
		slog.String("subscription_id", rec.ExternalSubscriptionID),
		slog.String("tier", string(rec.Tier)),
		slog.String("status", string(rec.Status)))
}

// applyPeriod writes both period bounds together; partial updates would let
// two subscriptions' periods interleave.
func applyPeriod(rec *UserBillingRecord, start, end *time.Time) {
	if start == nil || end == nil {
		return
	}
	rec.CurrentPeriodStart = start
	rec.CurrentPeriodEnd = end
}

// applyTrial sets trial bounds only while the record is trialing; the fields
// are meaningless in any other status.
func applyTrial(rec *UserBillingRecord, start, end *time.Time, status Status) {
	if status == StatusTrialing {
		rec.TrialStartedAt = start
		rec.TrialEndsAt = end
		return
	}
	rec.TrialStartedAt = nil
	rec.TrialEndsAt = nil
}

// mapProviderStatus maps the provider's subscription status onto the internal
// enum. Unknown statuses land on incomplete, the most conservative state.
func mapProviderStatus(status string) Status {
	switch status {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCanceled
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	default:
		return StatusIncomplete
	}
}
