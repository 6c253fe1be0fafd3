package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoCacheDocument struct {
	Key       string `bson:"_id"`
	Value     []byte `bson:"value"`
	UpdatedAt int64  `bson:"updated_at"`
}

// MongoDBStore stores cache entries in MongoDB, keyed by _id.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore uses the cache_entries collection of database.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{collection: database.Collection("cache_entries")}, nil
}

// Get returns the value stored under key.
func (s *MongoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoCacheDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	return doc.Value, nil
}

// Set upserts the value for key.
func (s *MongoDBStore) Set(ctx context.Context, key string, value []byte) error {
	doc := mongoCacheDocument{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().Unix(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *MongoDBStore) Delete(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key under prefix using an anchored regex.
func (s *MongoDBStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	result, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return int(result.DeletedCount), nil
}

// Close is a no-op; client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
