// Package roleregistry resolves role names to stored permission bundles.
//
// Roles are seeded once and read on every provisioning call, so resolved
// roles are cached in memory. Concurrent misses for the same name share one
// store read.
package roleregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	"github.com/dalemusser/taskhub/internal/domain/models"
	gocache "github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownRole is returned for a name outside the closed role set.
	ErrUnknownRole = errors.New("unknown role name")
	// ErrNotFound is returned when a known role has not been seeded.
	ErrNotFound = errors.New("role not configured")
)

// DefaultTTL is used when New receives a non-positive ttl.
const DefaultTTL = 10 * time.Minute

// loadTimeout bounds the shared store read, which is detached from any
// single caller's context.
const loadTimeout = 5 * time.Second

// Loader reads one role from storage. *rolestore.Store satisfies it.
type Loader interface {
	GetByName(ctx context.Context, name models.RoleName) (models.Role, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	store Loader
	cache *gocache.Cache
	sf    singleflight.Group
	log   *zap.Logger
}

// New creates a Registry that caches resolved roles for ttl.
func New(store Loader, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
		log:   logger,
	}
}

// Resolve returns the role stored under name.
func (r *Registry) Resolve(ctx context.Context, name models.RoleName) (models.Role, error) {
	if !name.Valid() {
		return models.Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, string(name))
	}
	if v, ok := r.cache.Get(string(name)); ok {
		return v.(models.Role), nil
	}

	ch := r.sf.DoChan(string(name), func() (interface{}, error) {
		if v, ok := r.cache.Get(string(name)); ok {
			return v, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		role, err := r.store.GetByName(lctx, name)
		if err != nil {
			if errors.Is(err, rolestore.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return nil, fmt.Errorf("load role %s: %w", name, err)
		}
		r.cache.SetDefault(string(name), role)
		r.log.Debug("role loaded", zap.String("role", string(name)), zap.String("role_id", role.ID.Hex()))
		return role, nil
	})

	select {
	case <-ctx.Done():
		return models.Role{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Role{}, res.Err
		}
		return res.Val.(models.Role), nil
	}
}

// Invalidate drops every cached role. Used after re-seeding.
func (r *Registry) Invalidate() {
	r.cache.Flush()
}

// ResolveID returns the seeded role whose document id is id. A miss flushes
// the cache once and retries, since re-seeding assigns new ids.
func (r *Registry) ResolveID(ctx context.Context, id primitive.ObjectID) (models.Role, error) {
	for attempt := 0; attempt < 2; attempt++ {
		for _, name := range models.AllRoleNames() {
			role, err := r.Resolve(ctx, name)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return models.Role{}, err
			}
			if role.ID == id {
				return role, nil
			}
		}
		if attempt == 0 {
			r.Invalidate()
		}
	}
	return models.Role{}, fmt.Errorf("%w: id %s", ErrNotFound, id.Hex())
}
