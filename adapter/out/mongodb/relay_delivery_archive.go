package mongodb

import (
	"context"
	"fmt"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionDeliveries = "deliveries"

	// deliveryRetention is how long archived outcomes are kept.
	deliveryRetention = 90 * 24 * time.Hour

	maxListLimit = 500
)

// DeliveryArchive implements out.DeliveryArchive using MongoDB.
type DeliveryArchive struct {
	collection *mongo.Collection
}

var _ out.DeliveryArchive = (*DeliveryArchive)(nil)

func NewDeliveryArchive(db *mongo.Database) *DeliveryArchive {
	return &DeliveryArchive{collection: db.Collection(collectionDeliveries)}
}

// EnsureIndexes creates the lookup and retention indexes.
func (a *DeliveryArchive) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "form_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type deliveryDocument struct {
	ID          string    `bson:"id"`
	FormID      int64     `bson:"form_id"`
	Status      string    `bson:"status"`
	StatusCode  int       `bson:"status_code,omitempty"`
	Error       string    `bson:"error,omitempty"`
	Attempts    int       `bson:"attempts"`
	Body        string    `bson:"body"`
	CreatedAt   time.Time `bson:"created_at"`
	CompletedAt time.Time `bson:"completed_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

func toDocument(rec *domain.DeliveryRecord) *deliveryDocument {
	return &deliveryDocument{
		ID:          rec.ID,
		FormID:      rec.FormID,
		Status:      string(rec.Status),
		StatusCode:  rec.StatusCode,
		Error:       rec.Error,
		Attempts:    rec.Attempts,
		Body:        rec.Body,
		CreatedAt:   rec.CreatedAt.UTC(),
		CompletedAt: rec.CompletedAt.UTC(),
		ExpiresAt:   rec.CompletedAt.UTC().Add(deliveryRetention),
	}
}

func (d *deliveryDocument) toRecord() *domain.DeliveryRecord {
	return &domain.DeliveryRecord{
		ID:          d.ID,
		FormID:      d.FormID,
		Status:      domain.DeliveryStatus(d.Status),
		StatusCode:  d.StatusCode,
		Error:       d.Error,
		Attempts:    d.Attempts,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

// Save upserts the record by delivery id, so later attempts replace earlier ones.
func (a *DeliveryArchive) Save(ctx context.Context, rec *domain.DeliveryRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := a.collection.ReplaceOne(ctx, bson.M{"id": rec.ID}, toDocument(rec), opts)
	if err != nil {
		return fmt.Errorf("failed to archive delivery %s: %w", rec.ID, err)
	}
	return nil
}

// ListByForm returns the newest records for formID.
func (a *DeliveryArchive) ListByForm(ctx context.Context, formID int64, limit int) ([]*domain.DeliveryRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"form_id": formID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []deliveryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode deliveries: %w", err)
	}

	records := make([]*domain.DeliveryRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toRecord())
	}
	return records, nil
}
