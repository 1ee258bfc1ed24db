// internal/app/store/members/memberstore.go
package memberstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/txn"
	"github.com/dalemusser/taskhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("members")}
}

var (
	ErrDuplicateMembership = errors.New("user is already a member of this workspace")
	ErrNotFound            = errors.New("membership not found")
	errMissingRef          = errors.New("member requires user_id, workspace_id and role")
)

// Create inserts a membership. JoinedAt defaults to now.
func (s *Store) Create(ctx context.Context, m models.Member) (models.Member, error) {
	if m.UserID.IsZero() || m.WorkspaceID.IsZero() || m.RoleID.IsZero() {
		return models.Member{}, errMissingRef
	}
	m.ID = primitive.NewObjectID()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}

	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) || txn.IsWriteConflict(err) {
			return models.Member{}, fmt.Errorf("%w: %w", ErrDuplicateMembership, err)
		}
		return models.Member{}, err
	}
	return m, nil
}

// Get returns the membership for (userID, workspaceID).
func (s *Store) Get(ctx context.Context, userID, workspaceID primitive.ObjectID) (models.Member, error) {
	var m models.Member
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "workspace_id": workspaceID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Member{}, ErrNotFound
		}
		return models.Member{}, err
	}
	return m, nil
}

// ListByWorkspace returns the workspace's members in join order.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID primitive.ObjectID) ([]models.Member, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"workspace_id": workspaceID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Member
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByRole counts members of workspaceID holding roleID.
func (s *Store) CountByRole(ctx context.Context, workspaceID, roleID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"workspace_id": workspaceID, "role": roleID})
}
