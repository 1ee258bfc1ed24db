// internal/app/store/accounts/accountstore.go
package accountstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/normalize"
	"github.com/dalemusser/taskhub/internal/app/system/txn"
	"github.com/dalemusser/taskhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists credential bindings. Accounts are insert-only.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("accounts")}
}

var (
	// ErrDuplicateAccount is returned when (provider, provider_id) is already bound.
	ErrDuplicateAccount = errors.New("an account for this provider identity already exists")
	ErrNotFound         = errors.New("account not found")
	errMissingIdentity  = errors.New("account requires user_id, provider and provider_id")
)

// Create binds a provider identity to a user.
func (s *Store) Create(ctx context.Context, a models.Account) (models.Account, error) {
	a.Provider = normalize.Provider(a.Provider)
	a.ProviderID = normalize.ProviderID(a.Provider, a.ProviderID)
	if a.UserID.IsZero() || a.Provider == "" || a.ProviderID == "" {
		return models.Account{}, errMissingIdentity
	}
	a.ID = primitive.NewObjectID()
	a.CreatedAt = time.Now().UTC()

	if _, err := s.c.InsertOne(ctx, a); err != nil {
		if wafflemongo.IsDup(err) || txn.IsWriteConflict(err) {
			return models.Account{}, fmt.Errorf("%w: %w", ErrDuplicateAccount, err)
		}
		return models.Account{}, err
	}
	return a, nil
}

// GetByProvider looks up the account for one provider identity.
func (s *Store) GetByProvider(ctx context.Context, p models.Provider, providerID string) (models.Account, error) {
	p = normalize.Provider(p)
	var a models.Account
	err := s.c.FindOne(ctx, bson.M{
		"provider":    p,
		"provider_id": normalize.ProviderID(p, providerID),
	}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, err
	}
	return a, nil
}

// ListByUser returns every account bound to userID, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Account
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
