// internal/app/store/workspaces/workspacestore.go
package workspacestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/taskhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateInviteCode = errors.New("a workspace with this invite code already exists")
	ErrNotFound            = errors.New("workspace not found")
	errOwnerRequired       = errors.New("workspace owner is required")
)

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("workspaces")}
}

// NewInviteCode returns a random 8-character invite code.
func NewInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create inserts a new workspace. An invite code is generated when absent.
func (s *Store) Create(ctx context.Context, ws models.Workspace) (models.Workspace, error) {
	if ws.Owner.IsZero() {
		return models.Workspace{}, errOwnerRequired
	}
	now := time.Now().UTC()
	ws.ID = primitive.NewObjectID()
	ws.Name = strings.TrimSpace(ws.Name)
	if ws.Name == "" {
		ws.Name = models.DefaultWorkspaceName
	}
	if ws.InviteCode == "" {
		ws.InviteCode = NewInviteCode()
	}
	ws.CreatedAt = now
	ws.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, ws); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Workspace{}, fmt.Errorf("%w: %w", ErrDuplicateInviteCode, err)
		}
		return models.Workspace{}, err
	}
	return ws, nil
}

// GetByID retrieves a workspace by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Workspace, error) {
	var ws models.Workspace
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&ws)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Workspace{}, ErrNotFound
		}
		return models.Workspace{}, err
	}
	return ws, nil
}

// ListByOwner returns the workspaces owned by userID, oldest first.
func (s *Store) ListByOwner(ctx context.Context, userID primitive.ObjectID) ([]models.Workspace, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"owner": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var workspaces []models.Workspace
	if err := cur.All(ctx, &workspaces); err != nil {
		return nil, err
	}
	return workspaces, nil
}

// CountWithoutOwnerMember counts workspaces created before cutoff whose
// owner holds no member record with ownerRoleID in that workspace.
func (s *Store) CountWithoutOwnerMember(ctx context.Context, ownerRoleID primitive.ObjectID, cutoff time.Time) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$lt": cutoff}}}},
		{{Key: "$lookup", Value: bson.M{
			"from": "members",
			"let":  bson.M{"ws": "$_id", "owner": "$owner"},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$workspace_id", "$$ws"}},
					bson.M{"$eq": bson.A{"$user_id", "$$owner"}},
					bson.M{"$eq": bson.A{"$role", ownerRoleID}},
				}}}},
				bson.M{"$limit": 1},
			},
			"as": "owner_member",
		}}},
		{{Key: "$match", Value: bson.M{"owner_member": bson.M{"$size": 0}}}},
		{{Key: "$count", Value: "n"}},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var res []struct {
		N int64 `bson:"n"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0].N, nil
}
