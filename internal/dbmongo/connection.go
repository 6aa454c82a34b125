// Package dbmongo reads poll and comment documents from MongoDB.
package dbmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pollcast/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	appName        = "pollcast-notifications"
	connectTimeout = 10 * time.Second
)

// MongoClient is the connection shared by the ResourceStore; closing it
// ends every collection handle taken from Database.
type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoConnection dials the poll document database and pings it within
// connectTimeout. A failed ping disconnects before returning.
func NewMongoConnection(ctx context.Context, c *config.Config) (*MongoClient, error) {
	if c.MongoDB.Database == "" {
		return nil, errors.New("mongodb database name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(c.GetMongoURI()).
		SetAppName(appName).
		SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoClient{
		Client:   client,
		Database: client.Database(c.MongoDB.Database),
	}, nil
}

func (mc *MongoClient) Close(ctx context.Context) error {
	return mc.Client.Disconnect(ctx)
}
