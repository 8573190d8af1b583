// Package manifest records every stored postcard in MongoDB so a client's
// set can be audited without listing the object store.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SchemaVersion is written on every record.
const SchemaVersion = "1.0"

// Record is one stored postcard.
type Record struct {
	SchemaVersion string `bson:"schema_version"`
	ClientID      string `bson:"client_id"`
	Container     string `bson:"container"`
	ObjectName    string `bson:"object_name"`
	WeatherText   string `bson:"weather_text"`
	ImageURL      string `bson:"image_url"`
	MessageID     string `bson:"message_id"`
	StoredAt      string `bson:"stored_at"`
}

// NewRecord fills the schema version and timestamp.
func NewRecord(clientID, container, objectName, weatherText, imageURL, messageID string, at time.Time) Record {
	return Record{
		SchemaVersion: SchemaVersion,
		ClientID:      clientID,
		Container:     container,
		ObjectName:    objectName,
		WeatherText:   weatherText,
		ImageURL:      imageURL,
		MessageID:     messageID,
		StoredAt:      at.UTC().Format(time.RFC3339),
	}
}

// Validate reports missing identity fields.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.ClientID) == "":
		return errors.New("manifest client_id is required")
	case strings.TrimSpace(r.ObjectName) == "":
		return errors.New("manifest object_name is required")
	case strings.TrimSpace(r.Container) == "":
		return errors.New("manifest container is required")
	}
	return nil
}

// MongoStore persists records with an idempotent upsert keyed on object name.
type MongoStore struct {
	collection *mongo.Collection
	logger     *log.Logger
}

// NewMongoStore returns a store on collection. A nil logger discards output.
func NewMongoStore(collection *mongo.Collection, logger *log.Logger) *MongoStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &MongoStore{collection: collection, logger: logger}
}

// EnsureIndexes creates the unique object name index and the client lookup
// index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	names, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "object_name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("object_name_unique"),
		},
		{
			Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: "stored_at", Value: 1}},
			Options: options.Index().SetName("client_id_stored_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo index ensure failed: %w", err)
	}
	s.logger.Printf("mongo indexes ensured collection=%s indexes=%v", s.collection.Name(), names)
	return nil
}

// Upsert inserts rec unless a record for the same object already exists.
// inserted is false on replay.
func (s *MongoStore) Upsert(ctx context.Context, rec Record) (inserted bool, err error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	res, err := s.collection.UpdateOne(
		ctx,
		bson.M{"object_name": rec.ObjectName},
		bson.M{"$setOnInsert": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("mongo upsert object_name=%s: %w", rec.ObjectName, err)
	}
	return res.UpsertedCount > 0, nil
}
