package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// MongoSink stores one document per thread in the "discussions" collection,
// keyed by discussion id, with replies embedded.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoSink connects to MongoDB and verifies the connection.
func NewMongoSink(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoSink, error) {
	if uri == "" {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("storage.mongo_uri is required")}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection("discussions"),
		logger:     logger.With("component", "mongo_sink"),
	}, nil
}

func (s *MongoSink) Name() string { return "mongodb" }

// threadDoc is the stored document shape.
type threadDoc struct {
	types.Discussion `bson:",inline"`
	Replies          []types.Reply `bson:"replies"`
	Complete         bool          `bson:"complete"`
	UpdatedAt        time.Time     `bson:"updated_at"`
}

// threadDocument renders the $set document for a thread. The _id is carried
// by the filter, and a nil analysis is left out so a stored one survives.
func threadDocument(thread *types.Thread, now time.Time) (bson.M, error) {
	if thread.Discussion == nil || thread.Discussion.ID == "" {
		return nil, fmt.Errorf("thread has no discussion id")
	}
	replies := thread.Replies
	if replies == nil {
		replies = []types.Reply{}
	}
	raw, err := bson.Marshal(threadDoc{
		Discussion: *thread.Discussion,
		Replies:    replies,
		Complete:   thread.Complete,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

func (s *MongoSink) Upsert(ctx context.Context, thread *types.Thread) error {
	doc, err := threadDocument(thread, time.Now().UTC())
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": thread.Discussion.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("upsert %s: %w", thread.Discussion.ID, err)}
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func (s *MongoSink) Close() error {
	s.mu.Lock()
	total := s.count
	s.mu.Unlock()

	s.logger.Info("mongodb sink closing", "threads", total)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
