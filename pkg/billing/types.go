package billing

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a named subscription plan bundling a set of feature limits.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// tierOrder lists tiers from lowest to highest entitlement. The order is
// load-bearing: the substring fallback in DeriveTier matches in this order,
// and the first element is the default-safe-low tier for unrecognized prices.
var tierOrder = []Tier{TierBasic, TierPro, TierEnterprise}

// Status represents the current state of a user's billing record.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Resource is a countable feature limited per tier.
type Resource string

const (
	ResourceProjects    Resource = "projects"
	ResourceTeamMembers Resource = "team_members"
	ResourceAPIKeys     Resource = "api_keys"
	ResourceStorage     Resource = "storage" // measured in GB
)

// Unlimited indicates no limit for a resource.
const Unlimited int64 = -1

// LimitBundle maps each resource to its limit for a tier.
// Bundles are always derived from the catalog via Limits, never authored
// directly on a record.
type LimitBundle map[Resource]int64

// UserBillingRecord is the per-user billing state owned by the Reconciler.
// UserID never changes; ExternalCustomerID is set once by LinkCustomer and
// thereafter immutable. Version backs optimistic concurrency: Save only
// succeeds when the stored version matches, so concurrent webhook deliveries
// for the same user serialize without a global lock.
type UserBillingRecord struct {
	UserID                 uuid.UUID   `json:"user_id"`
	ExternalCustomerID     string      `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string      `json:"external_subscription_id,omitempty"`
	Tier                   Tier        `json:"tier"`
	Status                 Status      `json:"status"`
	CurrentPeriodStart     *time.Time  `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time  `json:"current_period_end,omitempty"`
	TrialStartedAt         *time.Time  `json:"trial_started_at,omitempty"`
	TrialEndsAt            *time.Time  `json:"trial_ends_at,omitempty"`
	Limits                 LimitBundle `json:"limits"`
	Version                int64       `json:"-"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

func (r *UserBillingRecord) IsActive() bool {
	return r.Status == StatusActive
}

func (r *UserBillingRecord) IsTrialing() bool {
	return r.Status == StatusTrialing
}

func (r *UserBillingRecord) IsCanceled() bool {
	return r.Status == StatusCanceled
}

// TrialDaysRemainingAt returns the number of trial days left at a given time.
// Returns 0 when not trialing or when the trial has ended. Accepting the
// reference time keeps the method testable with fixed clocks.
func (r *UserBillingRecord) TrialDaysRemainingAt(now time.Time) int {
	if !r.IsTrialing() || r.TrialEndsAt == nil {
		return 0
	}
	remaining := r.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// Round up partial days for better UX
	return int(remaining.Hours()/24 + 0.5)
}

// TrialDaysRemaining returns the number of trial days left.
func (r *UserBillingRecord) TrialDaysRemaining() int {
	return r.TrialDaysRemainingAt(time.Now().UTC())
}

// EventType is the normalized webhook event kind. Provider implementations
// map their specific event names to these types; anything unmapped becomes
// EventUnknown and is accepted but ignored.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventUnknown             EventType = "unknown"
)

// Event is a normalized, verified webhook event. Events are ephemeral: the
// gateway builds one per inbound call and the reconciler consumes it; only
// its effects are persisted.
type Event struct {
	ID             string    // provider's event ID, used for dedup
	Type           EventType // normalized event kind
	ProviderEvent  string    // original provider event name
	CustomerID     string    // provider's customer ID, if carried
	SubscriptionID string    // provider's subscription ID, if carried
	UserID         string    // internal user ID from session metadata, if carried
	Status         string    // provider's subscription status, if carried
	PriceID        string    // provider's price ID, if carried
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	TrialStart     *time.Time
	TrialEnd       *time.Time
}
