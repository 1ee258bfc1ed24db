package roleregistry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeLoader struct {
	calls atomic.Int32
	delay time.Duration
	roles map[models.RoleName]models.Role
	err   error
}

func (f *fakeLoader) GetByName(ctx context.Context, name models.RoleName) (models.Role, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return models.Role{}, f.err
	}
	r, ok := f.roles[name]
	if !ok {
		return models.Role{}, rolestore.ErrNotFound
	}
	return r, nil
}

func seeded() map[models.RoleName]models.Role {
	out := map[models.RoleName]models.Role{}
	for _, n := range models.AllRoleNames() {
		out[n] = models.Role{ID: primitive.NewObjectID(), Name: n, Permissions: models.RolePermissions[n]}
	}
	return out
}

func TestResolve(t *testing.T) {
	roles := seeded()
	tests := []struct {
		name    string
		role    models.RoleName
		loader  *fakeLoader
		wantErr error
	}{
		{"owner", models.RoleOwner, &fakeLoader{roles: roles}, nil},
		{"member", models.RoleMember, &fakeLoader{roles: roles}, nil},
		{"unknown name", models.RoleName("owner"), &fakeLoader{roles: roles}, ErrUnknownRole},
		{"empty name", models.RoleName(""), &fakeLoader{roles: roles}, ErrUnknownRole},
		{"not seeded", models.RoleOwner, &fakeLoader{roles: map[models.RoleName]models.Role{}}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(tt.loader, time.Minute, zap.NewNop())
			got, err := reg.Resolve(context.Background(), tt.role)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.ID != roles[tt.role].ID {
				t.Errorf("Resolve() id = %s, want %s", got.ID.Hex(), roles[tt.role].ID.Hex())
			}
		})
	}
}

func TestResolve_UnknownNameSkipsStore(t *testing.T) {
	loader := &fakeLoader{roles: seeded()}
	reg := New(loader, time.Minute, zap.NewNop())

	_, _ = reg.Resolve(context.Background(), models.RoleName("SUPERUSER"))
	if n := loader.calls.Load(); n != 0 {
		t.Errorf("store called %d times, want 0", n)
	}
}

func TestResolve_Caches(t *testing.T) {
	loader := &fakeLoader{roles: seeded()}
	reg := New(loader, time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		if _, err := reg.Resolve(context.Background(), models.RoleOwner); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("store called %d times, want 1", n)
	}

	reg.Invalidate()
	if _, err := reg.Resolve(context.Background(), models.RoleOwner); err != nil {
		t.Fatalf("Resolve after Invalidate: %v", err)
	}
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("store called %d times after Invalidate, want 2", n)
	}
}

func TestResolve_ErrorsAreNotCached(t *testing.T) {
	loader := &fakeLoader{roles: map[models.RoleName]models.Role{}}
	reg := New(loader, time.Minute, zap.NewNop())

	_, _ = reg.Resolve(context.Background(), models.RoleOwner)
	_, _ = reg.Resolve(context.Background(), models.RoleOwner)
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2", n)
	}
}

func TestResolve_ConcurrentMissesCollapse(t *testing.T) {
	loader := &fakeLoader{roles: seeded(), delay: 50 * time.Millisecond}
	reg := New(loader, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Resolve(context.Background(), models.RoleOwner); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := loader.calls.Load(); n != 1 {
		t.Errorf("store called %d times, want 1", n)
	}
}

func TestResolve_CallerCancel(t *testing.T) {
	loader := &fakeLoader{roles: seeded(), delay: 200 * time.Millisecond}
	reg := New(loader, time.Minute, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := reg.Resolve(ctx, models.RoleOwner); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Resolve() error = %v, want DeadlineExceeded", err)
	}
}

func TestResolve_StoreError(t *testing.T) {
	boom := errors.New("boom")
	reg := New(&fakeLoader{err: boom}, time.Minute, zap.NewNop())

	_, err := reg.Resolve(context.Background(), models.RoleAdmin)
	if !errors.Is(err, boom) {
		t.Fatalf("Resolve() error = %v, want wrapped boom", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("store failure must not read as ErrNotFound")
	}
}

func TestResolveID(t *testing.T) {
	roles := seeded()
	loader := &fakeLoader{roles: roles}
	reg := New(loader, time.Minute, zap.NewNop())
	ctx := context.Background()

	got, err := reg.ResolveID(ctx, roles[models.RoleAdmin].ID)
	if err != nil {
		t.Fatalf("ResolveID() error = %v", err)
	}
	if got.Name != models.RoleAdmin {
		t.Errorf("ResolveID() name = %s, want %s", got.Name, models.RoleAdmin)
	}

	if _, err := reg.ResolveID(ctx, primitive.NewObjectID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: error = %v, want ErrNotFound", err)
	}
}

func TestResolveID_ReseededRolesAreReloaded(t *testing.T) {
	loader := &fakeLoader{roles: seeded()}
	reg := New(loader, time.Minute, zap.NewNop())
	ctx := context.Background()

	if _, err := reg.Resolve(ctx, models.RoleOwner); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	reseeded := seeded()
	loader.roles = reseeded

	got, err := reg.ResolveID(ctx, reseeded[models.RoleOwner].ID)
	if err != nil {
		t.Fatalf("ResolveID() after re-seed error = %v", err)
	}
	if got.Name != models.RoleOwner {
		t.Errorf("ResolveID() name = %s, want %s", got.Name, models.RoleOwner)
	}
}
