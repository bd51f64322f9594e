package billing

import "errors"

var (
	// Caller identity / authorization
	ErrUnauthenticated  = errors.New("billing: caller identity is required")
	ErrSignatureInvalid = errors.New("billing: webhook signature verification failed")

	// Input validation
	ErrInvalidArgument = errors.New("billing: invalid argument")
	ErrUnknownPlan     = errors.New("billing: unknown plan identifier")

	// Business state
	ErrNoBillingRelationship = errors.New("billing: user has no billing relationship yet")

	// Resolution misses; dropped during webhook processing, never fatal
	ErrRecordNotFound  = errors.New("billing: billing record not found")
	ErrUserNotResolved = errors.New("billing: external customer does not resolve to a user")

	// Concurrency
	ErrVersionConflict = errors.New("billing: record version conflict")

	// Transient infrastructure failures; callers retry
	ErrStoreUnavailable    = errors.New("billing: store unavailable")
	ErrProviderUnavailable = errors.New("billing: payment provider unavailable")

	// Provider responses missing required data
	ErrNoCheckoutURL = errors.New("billing: no checkout URL returned from provider")
	ErrNoPortalURL   = errors.New("billing: no portal URL returned from provider")

	// Configuration
	ErrInvalidCatalog = errors.New("billing: invalid tier catalog configuration")
)

// IsTransient reports whether err should be surfaced as retryable to the
// caller (5xx on the webhook endpoint so the provider redelivers, a retry
// prompt on the session endpoints). Everything else is rejected outright.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrProviderUnavailable)
}
