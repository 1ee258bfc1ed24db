// internal/app/store/roles/rolestore.go
package rolestore

import (
	"context"
	"errors"

	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads and seeds the roles collection. Only Seed writes; request
// paths read through the role registry.
type Store struct {
	c *mongo.Collection
}

var ErrNotFound = errors.New("role not found")

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("roles")}
}

// GetByName loads one role.
func (s *Store) GetByName(ctx context.Context, name models.RoleName) (models.Role, error) {
	var r models.Role
	if err := s.c.FindOne(ctx, bson.M{"name": name}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Role{}, ErrNotFound
		}
		return models.Role{}, err
	}
	return r, nil
}

// List returns all stored roles sorted by name.
func (s *Store) List(ctx context.Context) ([]models.Role, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Role
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seed creates any role from models.RolePermissions that is missing.
// Existing roles are left untouched. Returns the names that were created.
func (s *Store) Seed(ctx context.Context) ([]models.RoleName, error) {
	var created []models.RoleName
	for _, name := range models.AllRoleNames() {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"name": name},
			bson.M{"$setOnInsert": bson.M{
				"name":        name,
				"permissions": models.RolePermissions[name],
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return created, err
		}
		if res.UpsertedCount > 0 {
			created = append(created, name)
		}
	}
	return created, nil
}
