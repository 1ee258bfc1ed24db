// internal/app/store/oauthstate/store.go
package oauthstate

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// State is a one-time OAuth2 state token stored for CSRF protection.
// The TTL index on expires_at removes stale tokens.
type State struct {
	State     string    `bson:"state"`
	Provider  string    `bson:"provider"`
	ReturnTo  string    `bson:"return_to,omitempty"` // frontend path to land on after login
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store manages OAuth2 state tokens in MongoDB.
type Store struct {
	c *mongo.Collection
}

// New creates a new OAuth state Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("oauth_states")}
}

// Save stores a state token for provider, valid until expiresAt.
func (s *Store) Save(ctx context.Context, state, provider, returnTo string, expiresAt time.Time) error {
	_, err := s.c.InsertOne(ctx, State{
		State:     state,
		Provider:  provider,
		ReturnTo:  returnTo,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	})
	return err
}

// Consume validates and deletes a state token in one step. valid is false
// for unknown, expired, already-used or wrong-provider tokens.
func (s *Store) Consume(ctx context.Context, state, provider string) (returnTo string, valid bool, err error) {
	var st State
	err = s.c.FindOneAndDelete(ctx, bson.M{
		"state":      state,
		"provider":   provider,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return st.ReturnTo, true, nil
}

// CleanupExpired removes expired tokens. The TTL monitor runs about once a
// minute; this catches anything it has not reached yet.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
