// Command taskhub-admin performs operator tasks against the TaskHub database:
// seeding and listing roles, reading the auth audit trail and running the
// ownership invariant check on demand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	uri := envOr("TASKHUB_MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	dbName := envOr("TASKHUB_MONGO_DATABASE", "taskhub")

	open := func(ctx context.Context) (*mongo.Database, func(), error) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(4))
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ping %s: %w", uri, err)
		}
		return client.Database(dbName), func() { _ = client.Disconnect(context.Background()) }, nil
	}

	root := newRootCmd(open, os.Stdout)
	root.PersistentFlags().StringVar(&uri, "mongo-uri", uri, "MongoDB URI (env TASKHUB_MONGO_URI)")
	root.PersistentFlags().StringVar(&dbName, "mongo-database", dbName, "Database name (env TASKHUB_MONGO_DATABASE)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
