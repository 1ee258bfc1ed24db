// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	"github.com/dalemusser/taskhub/internal/app/store/oauthstate"
	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	workspacestore "github.com/dalemusser/taskhub/internal/app/store/workspaces"
	"github.com/dalemusser/taskhub/internal/app/system/authutil"
	"github.com/dalemusser/taskhub/internal/app/system/credentials"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/app/system/timeouts"
	"github.com/dalemusser/taskhub/internal/app/system/txn"
	"github.com/dalemusser/taskhub/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Startup runs one-time initialization after DB connections and schema
// setup: it applies timeouts, builds the provisioning and credential
// services and starts the invariant worker.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{Short: appCfg.TimeoutShort, Long: appCfg.TimeoutLong})
	t := timeouts.Current()
	logger.Info("timeouts configured",
		zap.Duration("ping", t.Ping), zap.Duration("short", t.Short), zap.Duration("long", t.Long))

	svc, err := buildServices(appCfg, deps, logger)
	if err != nil {
		return err
	}
	*deps.Services = *svc

	if svc.Invariants != nil {
		svc.Invariants.Start()
	}
	return nil
}

func buildServices(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*Services, error) {
	db := deps.MongoDatabase

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	policy, err := provisioning.ParseLinkPolicy(appCfg.OAuthLinkPolicy)
	if err != nil {
		return nil, err
	}

	users := userstore.New(db)
	accounts := accountstore.New(db)
	workspaces := workspacestore.New(db)
	members := memberstore.New(db)
	roles := roleregistry.New(rolestore.New(db), appCfg.RoleCacheTTL, logger)
	hasher := authutil.Bcrypt{Cost: appCfg.BcryptCost}

	prov := provisioning.New(provisioning.Deps{
		Users:      users,
		Accounts:   accounts,
		Workspaces: workspaces,
		Members:    members,
		Roles:      roles,
		Tx:         txn.New(deps.MongoClient, logger),
		Hasher:     hasher,
		Metrics:    m,
		Log:        logger,
	}, policy)

	verifier, err := credentials.New(accounts, users, hasher, m, logger)
	if err != nil {
		return nil, fmt.Errorf("credential verifier: %w", err)
	}

	svc := &Services{
		Metrics:      m,
		Roles:        roles,
		Workspaces:   workspaces,
		Members:      members,
		Provisioning: prov,
		Verifier:     verifier,
	}
	if appCfg.InvariantCheckInterval > 0 {
		svc.Invariants = workers.NewInvariantCheck(users, workspaces, roles, oauthstate.New(db), m, logger,
			appCfg.InvariantCheckInterval, appCfg.InvariantGrace)
	}

	logger.Info("provisioning ready", zap.String("link_policy", prov.Policy().String()))
	return svc, nil
}
