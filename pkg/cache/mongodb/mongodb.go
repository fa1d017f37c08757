package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabaseName   = "mpagent"
	DefaultCollectionName = "cache_entries"
)

// Store keeps one document per entry. A TTL index on expires_at lets the
// server purge expired entries; reads also filter them out since the purge
// runs only about once a minute.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type Opts struct {
	URI            string
	DatabaseName   string
	CollectionName string
}

type document struct {
	Region    string     `bson:"region"`
	Key       string     `bson:"key"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

func New(ctx context.Context, opts Opts) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	databaseName := opts.DatabaseName
	if databaseName == "" {
		databaseName = DefaultDatabaseName
	}

	collectionName := opts.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	store := &Store{
		client:     client,
		collection: client.Database(databaseName).Collection(collectionName),
	}

	store.ensureIndexes(ctx)

	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "region", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "expires_at", Value: 1},
			},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create cache indexes")
	}
}

func notExpired(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$exists": false}},
		bson.M{"expires_at": bson.M{"$gt": now}},
	}}
}

func (s *Store) Get(ctx context.Context, key, region string) ([]byte, error) {
	filter := bson.M{
		"region": cache.RegionKey(region),
		"key":    key,
	}
	for k, v := range notExpired(time.Now()) {
		filter[k] = v
	}

	var doc document
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return doc.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	now := time.Now()

	set := bson.M{
		"region":     cache.RegionKey(region),
		"key":        key,
		"value":      value,
		"updated_at": now,
	}

	update := bson.M{"$set": set}

	if expiresAt := cache.ExpiresAt(now, ttl); !expiresAt.IsZero() {
		set["expires_at"] = expiresAt
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}

	filter := bson.M{
		"region": cache.RegionKey(region),
		"key":    key,
	}

	opts := options.Update().SetUpsert(true)
	if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key, region string) error {
	filter := bson.M{
		"region": cache.RegionKey(region),
		"key":    key,
	}

	if _, err := s.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	return nil
}

func (s *Store) Items(ctx context.Context, region string) ([]cache.Item, error) {
	filter := notExpired(time.Now())
	filter["region"] = cache.RegionKey(region)

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "key", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}

	items := make([]cache.Item, 0, len(docs))
	for _, doc := range docs {
		item := cache.Item{
			Key:   doc.Key,
			Value: doc.Value,
		}
		if doc.ExpiresAt != nil {
			item.ExpiresAt = *doc.ExpiresAt
		}
		items = append(items, item)
	}

	return items, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
