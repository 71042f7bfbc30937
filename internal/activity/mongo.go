package activity

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"plate/api/internal/model"
)

const collectionActivities = "activities"

// MongoFeed keeps the activity feed in MongoDB.
type MongoFeed struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo opens a pooled client, pings it and ensures indexes.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	feed := &MongoFeed{
		client:     client,
		collection: client.Database(database).Collection(collectionActivities),
	}
	if err := feed.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return feed, nil
}

func (f *MongoFeed) ensureIndexes(ctx context.Context) error {
	_, err := f.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "team_id", Value: 1}, {Key: "plate_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "plate_item_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create activity indexes: %w", err)
	}
	return nil
}

func (f *MongoFeed) Record(ctx context.Context, entry model.Activity) error {
	if _, err := f.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (f *MongoFeed) List(ctx context.Context, filter Filter) ([]model.Activity, error) {
	query := bson.M{"team_id": filter.TeamID}
	if filter.PlateID != "" {
		query["plate_id"] = filter.PlateID
	}
	if filter.PlateItemID != "" {
		query["plate_item_id"] = filter.PlateItemID
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}

	cursor, err := f.collection.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(filter.limit())))
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make([]model.Activity, 0)
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return entries, nil
}

func (f *MongoFeed) Close(ctx context.Context) error {
	return f.client.Disconnect(ctx)
}
