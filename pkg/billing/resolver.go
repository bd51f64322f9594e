package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CustomerResolver maps between internal user IDs and external customer IDs.
type CustomerResolver struct {
	store    Store
	provider PaymentProvider
	catalog  *Catalog
	log      *slog.Logger
}

// NewCustomerResolver creates a resolver. Panics on nil dependencies to fail
// fast during initialization.
func NewCustomerResolver(store Store, provider PaymentProvider, catalog *Catalog, log *slog.Logger) *CustomerResolver {
	if store == nil {
		panic("billing: Store is required")
	}
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CustomerResolver{store: store, provider: provider, catalog: catalog, log: log}
}

// ResolveUserID maps an external customer ID to an internal user ID. Primary
// path is the store's customer index; on a miss it falls back to the user-id
// tag on the provider's customer record, which covers the window between
// customer creation and the local index write. Returns ErrUserNotResolved
// when neither path resolves; callers drop the event and log for manual
// reconciliation, never treat it as fatal.
func (r *CustomerResolver) ResolveUserID(ctx context.Context, customerID string) (uuid.UUID, error) {
	if customerID == "" {
		return uuid.Nil, ErrUserNotResolved
	}

	rec, err := r.store.FindByCustomerID(ctx, customerID)
	if err == nil {
		return rec.UserID, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return uuid.Nil, err
	}

	tag, err := r.provider.LookupCustomerUserID(ctx, customerID)
	if err != nil {
		if IsTransient(err) {
			return uuid.Nil, err
		}
		r.log.DebugContext(ctx, "customer metadata lookup failed",
			slog.String("customer_id", customerID), slog.Any("error", err))
		return uuid.Nil, ErrUserNotResolved
	}

	userID, err := uuid.Parse(tag)
	if err != nil {
		r.log.WarnContext(ctx, "customer carries malformed user tag",
			slog.String("customer_id", customerID), slog.String("tag", tag))
		return uuid.Nil, ErrUserNotResolved
	}
	return userID, nil
}

// FindOrCreateCustomer returns the user's external customer ID, creating the
// external customer when no link exists yet. Creation happens before the
// local persist on purpose: if the persist fails, the retried create carries
// the same idempotency key and collapses into the earlier customer instead of
// failing closed.
func (r *CustomerResolver) FindOrCreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	if userID == uuid.Nil {
		return "", ErrUnauthenticated
	}

	// Bounded conflict retries: a concurrent link for the same user wins and
	// its customer ID is reused.
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := r.store.Get(ctx, userID)
		switch {
		case err == nil:
			if rec.ExternalCustomerID != "" {
				return rec.ExternalCustomerID, nil
			}
		case errors.Is(err, ErrRecordNotFound):
			rec = newBillingRecord(userID, r.catalog)
		default:
			return "", err
		}

		customerID, err := r.provider.CreateCustomer(ctx, userID.String(), email)
		if err != nil {
			return "", err
		}

		rec.ExternalCustomerID = customerID
		rec.UpdatedAt = time.Now().UTC()
		if err := r.store.Save(ctx, rec); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return "", err
		}

		r.log.InfoContext(ctx, "linked external customer",
			slog.String("user_id", userID.String()), slog.String("customer_id", customerID))
		return customerID, nil
	}

	return "", ErrVersionConflict
}

// newBillingRecord builds the skeleton record created when a user first
// touches billing: lowest tier, incomplete status, limits projected from the
// tier so the limits invariant holds from the very first write.
func newBillingRecord(userID uuid.UUID, catalog *Catalog) *UserBillingRecord {
	tier := LowestTier()
	return &UserBillingRecord{
		UserID:    userID,
		Tier:      tier,
		Status:    StatusIncomplete,
		Limits:    catalog.Limits(tier),
		UpdatedAt: time.Now().UTC(),
	}
}
