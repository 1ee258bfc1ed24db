// internal/app/system/workers/invariantcheck.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/timeouts"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Violation kinds reported on the taskhub_invariant_violations gauge.
const (
	KindUserWithoutWorkspace  = "user_without_workspace"
	KindWorkspaceWithoutOwner = "workspace_without_owner"
)

type UserCounter interface {
	CountWithoutWorkspace(ctx context.Context, cutoff time.Time) (int64, error)
}

type WorkspaceCounter interface {
	CountWithoutOwnerMember(ctx context.Context, ownerRoleID primitive.ObjectID, cutoff time.Time) (int64, error)
}

type RoleResolver interface {
	Resolve(ctx context.Context, name models.RoleName) (models.Role, error)
}

type StateCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// InvariantCheck periodically counts provisioned records that break the
// ownership invariant and publishes the counts. It never repairs anything.
// Records younger than the grace window are skipped so in-flight units
// are not reported.
type InvariantCheck struct {
	Users      UserCounter
	Workspaces WorkspaceCounter
	Roles      RoleResolver
	States     StateCleaner // optional
	Metrics    *metrics.Metrics

	log      *zap.Logger
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewInvariantCheck creates the worker. Start must be called to run it.
func NewInvariantCheck(users UserCounter, workspaces WorkspaceCounter, roles RoleResolver, states StateCleaner, m *metrics.Metrics, logger *zap.Logger, interval, grace time.Duration) *InvariantCheck {
	return &InvariantCheck{
		Users:      users,
		Workspaces: workspaces,
		Roles:      roles,
		States:     states,
		Metrics:    m,
		log:        logger,
		interval:   interval,
		grace:      grace,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background loop.
func (w *InvariantCheck) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("invariant check worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("grace", w.grace))
}

// Stop signals the worker to stop and waits for it to finish. Safe to call twice.
func (w *InvariantCheck) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("invariant check worker stopped")
	})
}

func (w *InvariantCheck) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(context.Background())
		}
	}
}

// Report is the outcome of one pass.
type Report struct {
	UsersWithoutWorkspace  int64
	WorkspacesWithoutOwner int64
	ExpiredStatesRemoved   int64
}

// RunOnce performs a single pass. Failures of one check do not skip the others.
func (w *InvariantCheck) RunOnce(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	var rep Report
	cutoff := w.now().UTC().Add(-w.grace)

	if n, err := w.Users.CountWithoutWorkspace(ctx, cutoff); err != nil {
		w.log.Error("invariant check: count users without workspace", zap.Error(err))
	} else {
		rep.UsersWithoutWorkspace = n
		w.Metrics.SetInvariantViolations(KindUserWithoutWorkspace, n)
		if n > 0 {
			w.log.Warn("users without a current workspace", zap.Int64("count", n))
		}
	}

	if owner, err := w.Roles.Resolve(ctx, models.RoleOwner); err != nil {
		w.log.Error("invariant check: resolve owner role", zap.Error(err))
	} else if n, err := w.Workspaces.CountWithoutOwnerMember(ctx, owner.ID, cutoff); err != nil {
		w.log.Error("invariant check: count workspaces without owner", zap.Error(err))
	} else {
		rep.WorkspacesWithoutOwner = n
		w.Metrics.SetInvariantViolations(KindWorkspaceWithoutOwner, n)
		if n > 0 {
			w.log.Warn("workspaces without an owner member", zap.Int64("count", n))
		}
	}

	if w.States != nil {
		n, err := w.States.CleanupExpired(ctx)
		if err != nil {
			w.log.Error("invariant check: cleanup oauth states", zap.Error(err))
		} else if n > 0 {
			rep.ExpiredStatesRemoved = n
			w.log.Debug("removed expired oauth states", zap.Int64("count", n))
		}
	}

	return rep
}
