package userstore

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
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	ErrNotFound       = errors.New("user not found")
	errNameRequired   = errors.New("user name is required")
)

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email. Returns ErrNotFound if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, ErrNotFound
	}
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user after normalizing fields. CurrentWorkspace is
// left as given (normally nil); provisioning sets it with SetCurrentWorkspace
// once the home workspace exists.
//
// A duplicate-key error, or a write conflict with a concurrent transaction
// inserting the same email, is reported as ErrDuplicateEmail.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Email = normalize.Email(u.Email)
	u.Name = normalize.Name(u.Name)
	if u.Name == "" {
		return models.User{}, errNameRequired
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) || txn.IsWriteConflict(err) {
			return models.User{}, fmt.Errorf("%w: %w", ErrDuplicateEmail, err)
		}
		return models.User{}, err
	}
	return u, nil
}

// SetCurrentWorkspace points the user's current workspace at wsID.
func (s *Store) SetCurrentWorkspace(ctx context.Context, userID, wsID primitive.ObjectID) error {
	res, err := s.c.UpdateByID(ctx, userID, bson.M{"$set": bson.M{
		"current_workspace": wsID,
		"updated_at":        time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWithoutWorkspace counts users created before cutoff that still have
// no current workspace. Provisioning never commits such a user, so any
// non-zero result means the invariant was broken outside this service.
func (s *Store) CountWithoutWorkspace(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"current_workspace": bson.M{"$exists": false},
		"created_at":        bson.M{"$lt": cutoff},
	})
}
