package billing

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Store persists user billing records. Each user has exactly one record,
// keyed by user ID, with a secondary index on the external customer ID for
// the resolver's primary path.
//
// Save implements optimistic concurrency: a record with Version 0 is
// inserted, anything else is a conditional update matching the stored
// version. Both fail with ErrVersionConflict when another writer got there
// first; callers re-read and recompute. This scopes contention to the
// affected user without any global lock.
type Store interface {
	// Get retrieves a record by user ID. Returns ErrRecordNotFound if the
	// user has no billing record yet.
	Get(ctx context.Context, userID uuid.UUID) (*UserBillingRecord, error)

	// FindByCustomerID retrieves a record via the external-customer index.
	// Returns ErrRecordNotFound on an index miss.
	FindByCustomerID(ctx context.Context, customerID string) (*UserBillingRecord, error)

	// Save writes the record conditionally on rec.Version and bumps the
	// version on success (reflected in rec).
	Save(ctx context.Context, rec *UserBillingRecord) error
}

// cloneRecord returns a deep copy so store internals never alias caller state.
func cloneRecord(rec *UserBillingRecord) *UserBillingRecord {
	out := *rec
	out.Limits = maps.Clone(rec.Limits)
	out.CurrentPeriodStart = cloneTime(rec.CurrentPeriodStart)
	out.CurrentPeriodEnd = cloneTime(rec.CurrentPeriodEnd)
	out.TrialStartedAt = cloneTime(rec.TrialStartedAt)
	out.TrialEndsAt = cloneTime(rec.TrialEndsAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
