// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	workspacestore "github.com/dalemusser/taskhub/internal/app/store/workspaces"
	"github.com/dalemusser/taskhub/internal/app/system/credentials"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/app/system/workers"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Services is allocated by ConnectDB and filled in by Startup, so the
	// value-copied DBDeps seen by later hooks share it.
	Services *Services
}

// Services are the long-lived components built once at startup.
type Services struct {
	Metrics      *metrics.Metrics
	Roles        *roleregistry.Registry
	Workspaces   *workspacestore.Store
	Members      *memberstore.Store
	Provisioning *provisioning.Service
	Verifier     *credentials.Verifier
	Invariants   *workers.InvariantCheck // nil when disabled
}
