package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// billingCollection is the collection holding one document per user.
const billingCollection = "user_billing_records"

// MongoStore implements Store on a MongoDB collection. Writes are
// version-stamped conditional updates, so concurrent webhook deliveries for
// the same user resolve through retry instead of lost updates.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore returns a store backed by the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(billingCollection)}
}

// EnsureIndexes creates the secondary index on external_customer_id required
// for the resolver's primary lookup path. Unique and sparse: at most one
// record per customer, records without a customer link are not indexed.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "external_customer_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// billingDoc is the persisted shape of a UserBillingRecord. The user ID is
// stored as its string form in _id to keep documents readable and queries
// driver-agnostic.
type billingDoc struct {
	UserID                 string           `bson:"_id"`
	ExternalCustomerID     string           `bson:"external_customer_id,omitempty"`
	ExternalSubscriptionID string           `bson:"external_subscription_id,omitempty"`
	Tier                   string           `bson:"tier"`
	Status                 string           `bson:"status"`
	CurrentPeriodStart     *time.Time       `bson:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time       `bson:"current_period_end,omitempty"`
	TrialStartedAt         *time.Time       `bson:"trial_started_at,omitempty"`
	TrialEndsAt            *time.Time       `bson:"trial_ends_at,omitempty"`
	Limits                 map[string]int64 `bson:"limits"`
	Version                int64            `bson:"version"`
	UpdatedAt              time.Time        `bson:"updated_at"`
}

func toDoc(rec *UserBillingRecord) *billingDoc {
	doc := &billingDoc{
		UserID:                 rec.UserID.String(),
		ExternalCustomerID:     rec.ExternalCustomerID,
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		Tier:                   string(rec.Tier),
		Status:                 string(rec.Status),
		CurrentPeriodStart:     rec.CurrentPeriodStart,
		CurrentPeriodEnd:       rec.CurrentPeriodEnd,
		TrialStartedAt:         rec.TrialStartedAt,
		TrialEndsAt:            rec.TrialEndsAt,
		Version:                rec.Version,
		UpdatedAt:              rec.UpdatedAt,
	}
	if rec.Limits != nil {
		doc.Limits = make(map[string]int64, len(rec.Limits))
		for res, limit := range rec.Limits {
			doc.Limits[string(res)] = limit
		}
	}
	return doc
}

func fromDoc(doc *billingDoc) (*UserBillingRecord, error) {
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	rec := &UserBillingRecord{
		UserID:                 userID,
		ExternalCustomerID:     doc.ExternalCustomerID,
		ExternalSubscriptionID: doc.ExternalSubscriptionID,
		Tier:                   Tier(doc.Tier),
		Status:                 Status(doc.Status),
		CurrentPeriodStart:     doc.CurrentPeriodStart,
		CurrentPeriodEnd:       doc.CurrentPeriodEnd,
		TrialStartedAt:         doc.TrialStartedAt,
		TrialEndsAt:            doc.TrialEndsAt,
		Version:                doc.Version,
		UpdatedAt:              doc.UpdatedAt,
	}
	if doc.Limits != nil {
		rec.Limits = make(LimitBundle, len(doc.Limits))
		for res, limit := range doc.Limits {
			rec.Limits[Resource(res)] = limit
		}
	}
	return rec, nil
}

func (s *MongoStore) Get(ctx context.Context, userID uuid.UUID) (*UserBillingRecord, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: userID.String()}})
}

func (s *MongoStore) FindByCustomerID(ctx context.Context, customerID string) (*UserBillingRecord, error) {
	return s.findOne(ctx, bson.D{{Key: "external_customer_id", Value: customerID}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (*UserBillingRecord, error) {
	var doc billingDoc
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return fromDoc(&doc)
}

func (s *MongoStore) Save(ctx context.Context, rec *UserBillingRecord) error {
	if rec.Version == 0 {
		doc := toDoc(rec)
		doc.Version = 1
		if _, err := s.col.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return errors.Join(ErrStoreUnavailable, err)
		}
		rec.Version = 1
		return nil
	}

	doc := toDoc(rec)
	doc.Version = rec.Version + 1
	filter := bson.D{
		{Key: "_id", Value: doc.UserID},
		{Key: "version", Value: rec.Version},
	}
	res, err := s.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		// A duplicate key on the customer index means another record claimed
		// this customer concurrently; surface it as a conflict so the caller
		// re-reads instead of treating the store as down.
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}
