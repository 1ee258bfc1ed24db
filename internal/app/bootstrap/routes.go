// internal/app/bootstrap/routes.go
package bootstrap

import (
	"encoding/json"
	"net/http"
	"time"

	authfeature "github.com/dalemusser/taskhub/internal/app/features/auth"
	authgooglefeature "github.com/dalemusser/taskhub/internal/app/features/authgoogle"
	healthfeature "github.com/dalemusser/taskhub/internal/app/features/health"
	"github.com/dalemusser/taskhub/internal/app/store/audit"
	"github.com/dalemusser/taskhub/internal/app/store/oauthstate"
	"github.com/dalemusser/taskhub/internal/app/system/auditlog"
	"github.com/dalemusser/taskhub/internal/app/system/auth"
	"github.com/dalemusser/taskhub/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for TaskHub.
//
// WAFFLE calls this after configuration, DB connections, schema setup and
// Startup have completed, so deps.Services is populated.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.Services

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	auditLog := auditlog.New(audit.New(deps.MongoDatabase), logger, auditlog.Config{Auth: appCfg.AuditLogAuth})

	r := chi.NewRouter()
	if appCfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(svc.Metrics.Middleware)

	// Loads SessionUser into context if logged in.
	r.Use(sessionMgr.LoadSessionUser)

	r.Get("/", serveIndex)

	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	// Email/password auth API
	authHandler := authfeature.NewHandler(sessionMgr, svc.Provisioning, svc.Verifier,
		authfeature.WorkspaceDirectory{Workspaces: svc.Workspaces, Members: svc.Members, Roles: svc.Roles}, auditLog, logger)
	loginLimiter := ratelimit.New(appCfg.LoginRateLimit, appCfg.LoginRateWindow)
	r.Mount("/api/auth", authfeature.Routes(authHandler, sessionMgr, loginLimiter))

	// Google OAuth
	googleHandler := authgooglefeature.NewHandler(sessionMgr, auditLog, oauthstate.New(deps.MongoDatabase), svc.Provisioning,
		appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL, appCfg.FrontendOrigin, logger)
	if !googleHandler.IsConfigured() {
		logger.Info("Google OAuth not configured; /auth/google will report failure")
	}
	r.Mount("/auth/google", authgooglefeature.Routes(googleHandler))

	return r, nil
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":   "TaskHub API is running",
		"status":    http.StatusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
