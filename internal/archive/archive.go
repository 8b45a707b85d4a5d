// Package archive keeps an append-only copy of every provider payload received at finalize, so
// disputed charges can be reconstructed after the fact.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const retention = 180 * 24 * time.Hour

type Record struct {
	OrderID    string    `bson:"order_id"`
	UserID     int64     `bson:"user_id"`
	Provider   string    `bson:"provider"`
	Status     string    `bson:"status"`
	Reference  string    `bson:"reference"`
	RawPayload string    `bson:"raw_payload"`
	Payload    bson.M    `bson:"payload,omitempty"`
	ReceivedAt time.Time `bson:"received_at"`
}

type MongoArchive struct {
	collection *mongo.Collection
}

func NewMongoArchive(db *mongo.Database) *MongoArchive {
	return &MongoArchive{collection: db.Collection("provider_payloads")}
}

// Store inserts the record. A payload that is a JSON object is also kept as a document so it
// can be queried field by field.
func (a *MongoArchive) Store(ctx context.Context, rec Record) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.Payload == nil && rec.RawPayload != "" {
		var doc bson.M
		if err := bson.UnmarshalExtJSON([]byte(rec.RawPayload), false, &doc); err == nil {
			rec.Payload = doc
		}
	}

	if _, err := a.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to archive payload: %w", err)
	}
	return nil
}

// ListByOrder returns the payloads received for an order, oldest first.
func (a *MongoArchive) ListByOrder(ctx context.Context, orderID string) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})
	cur, err := a.collection.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find payloads: %w", err)
	}
	defer cur.Close(ctx)

	var records []Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode payloads: %w", err)
	}
	return records, nil
}

func (a *MongoArchive) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "received_at", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
