package rolestore_test

import (
	"errors"
	"testing"

	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"github.com/dalemusser/taskhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestStore_Seed_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if len(created) != 3 {
		t.Errorf("first Seed created %v, want 3 roles", created)
	}

	created, err = store.Seed(ctx)
	if err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second Seed created %v, want none", created)
	}

	roles, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("List returned %d roles, want 3", len(roles))
	}
	for _, r := range roles {
		if len(r.Permissions) != len(models.RolePermissions[r.Name]) {
			t.Errorf("%s has %d permissions, want %d", r.Name, len(r.Permissions), len(models.RolePermissions[r.Name]))
		}
	}
}

func TestStore_Seed_KeepsExisting(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := db.Collection("roles").InsertOne(ctx, bson.M{"name": models.RoleOwner, "permissions": bson.A{}}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	before, err := store.GetByName(ctx, models.RoleOwner)
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}

	created, err := store.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if len(created) != 2 {
		t.Errorf("Seed created %v, want ADMIN and MEMBER", created)
	}

	after, err := store.GetByName(ctx, models.RoleOwner)
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if after.ID != before.ID || len(after.Permissions) != 0 {
		t.Errorf("existing OWNER role was modified: %+v", after)
	}
}

func TestStore_GetByName_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.GetByName(ctx, models.RoleAdmin); !errors.Is(err, rolestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
