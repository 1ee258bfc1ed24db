package testutil

import (
	"context"
	"testing"
	"time"

	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// SeedRoles inserts the three canonical roles and returns them by name.
func (f *Fixtures) SeedRoles(ctx context.Context) map[models.RoleName]models.Role {
	f.t.Helper()

	store := rolestore.New(f.db)
	if _, err := store.Seed(ctx); err != nil {
		f.t.Fatalf("failed to seed roles: %v", err)
	}
	roles, err := store.List(ctx)
	if err != nil {
		f.t.Fatalf("failed to list roles: %v", err)
	}
	out := make(map[models.RoleName]models.Role, len(roles))
	for _, r := range roles {
		out[r.Name] = r
	}
	return out
}

// CreateUser inserts a bare user with no current workspace.
func (f *Fixtures) CreateUser(ctx context.Context, name, email string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:        primitive.NewObjectID(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateWorkspace inserts a workspace owned by ownerID without any member.
func (f *Fixtures) CreateWorkspace(ctx context.Context, ownerID primitive.ObjectID, createdAt time.Time) models.Workspace {
	f.t.Helper()

	ws := models.Workspace{
		ID:         primitive.NewObjectID(),
		Name:       models.DefaultWorkspaceName,
		Owner:      ownerID,
		InviteCode: primitive.NewObjectID().Hex()[16:],
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if _, err := f.db.Collection("workspaces").InsertOne(ctx, ws); err != nil {
		f.t.Fatalf("failed to create test workspace: %v", err)
	}
	return ws
}

// Count returns the number of documents in a collection.
func (f *Fixtures) Count(ctx context.Context, collection string) int64 {
	f.t.Helper()

	n, err := f.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		f.t.Fatalf("count %s: %v", collection, err)
	}
	return n
}
