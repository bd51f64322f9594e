// Package billing keeps per-user billing records consistent with an external
// payment provider's subscription lifecycle.
//
// The package has two entry points. The SessionBroker serves the
// authenticated request flows that originate the lifecycle: checkout-session
// and customer-portal-session creation. The Gateway serves the provider's
// webhook deliveries: it verifies each payload's signature before parsing,
// normalizes the event, and hands it to the Reconciler. Both eventually feed
// the Reconciler, since checkout completion itself arrives as a webhook.
//
// # Architecture
//
//   - Catalog: static tier → price/limits mapping, loaded once at startup
//   - CustomerResolver: external customer ID ↔ internal user ID
//   - SessionBroker: checkout and portal session creation
//   - Gateway: webhook verification and dispatch
//   - Reconciler: the state machine applying lifecycle events
//   - Store: versioned persistence (MongoDB or in-memory)
//   - PaymentProvider: provider abstraction (Stripe implementation included)
//
// # State machine
//
// Records move through trialing → active → past_due → active/canceled.
// Canceled is terminal for a given external subscription ID; only a fresh
// checkout, which creates a new subscription ID, revives a record. Every
// transition recomputes the limit bundle from the tier, so limits can never
// drift from the tier that grants them.
//
// # Concurrency
//
// The provider delivers webhooks at least once and concurrently. Records
// carry a version; Save is a compare-and-swap and the Reconciler retries
// conflicts with backoff, so contention is scoped to the affected user. No
// per-user version window ever spans an outbound provider call.
//
// # Usage
//
//	catalog, err := billing.LoadCatalogFile("tiers.yaml")
//	provider, err := billing.NewStripeProvider(stripeCfg)
//	store := billing.NewMongoStore(db)
//
//	resolver := billing.NewCustomerResolver(store, provider, catalog, log)
//	reconciler := billing.NewReconciler(store, provider, resolver, catalog, log,
//		billing.WithDeduper(billing.NewRedisDeduper(redisClient, 0)),
//	)
//	broker := billing.NewSessionBroker(catalog, resolver, provider, store, log)
//	gateway := billing.NewGateway(provider, reconciler, log)
//
//	mux.Mount("/billing", billing.Router(broker, gateway, store, log))
package billing
