// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/authutil"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// appConfigKeys defines the configuration keys for TaskHub.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: TASKHUB_MONGO_URI, TASKHUB_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017/?replicaSet=rs0", Desc: "MongoDB connection URI (replica set required for transactions)"},
	{Name: "mongo_database", Default: "taskhub", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "taskhub-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "24h", Desc: "Session cookie lifetime"},

	{Name: "base_url", Default: "http://localhost:8000", Desc: "Public base URL of this API (OAuth callbacks)"},
	{Name: "frontend_origin", Default: "http://localhost:5173", Desc: "Browser app origin that OAuth logins redirect to"},

	// Google OAuth configuration
	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},
	{Name: "oauth_link_policy", Default: "email", Desc: "Provider login with a known email: 'email' links, 'strict' rejects"},

	// Provisioning
	{Name: "role_cache_ttl", Default: "10m", Desc: "How long resolved roles are cached"},
	{Name: "seed_roles", Default: true, Desc: "Create missing OWNER/ADMIN/MEMBER roles at startup"},
	{Name: "bcrypt_cost", Default: authutil.BcryptCost, Desc: "bcrypt cost for new password digests"},

	// Login rate limiting
	{Name: "login_rate_limit", Default: 60, Desc: "Login requests allowed per client IP per window"},
	{Name: "login_rate_window", Default: "1m", Desc: "Login rate limit window"},
	{Name: "trust_proxy", Default: false, Desc: "Use proxy headers for the client IP (only behind a trusted proxy)"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Invariant check worker
	{Name: "invariant_check_interval", Default: "5m", Desc: "How often to scan for broken ownership invariants (0 disables)"},
	{Name: "invariant_grace", Default: "2m", Desc: "Ignore records younger than this during invariant checks"},

	// Timeouts
	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single lookups"},
	{Name: "timeout_long", Default: "30s", Desc: "Timeout for a provisioning call"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// environment variables (WAFFLE_* for core, TASKHUB_* for app) and flags,
// with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "TASKHUB", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 24*time.Hour),

		BaseURL:        appValues.String("base_url"),
		FrontendOrigin: appValues.String("frontend_origin"),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),
		OAuthLinkPolicy:    appValues.String("oauth_link_policy"),

		RoleCacheTTL: appValues.Duration("role_cache_ttl", roleregistry.DefaultTTL),
		SeedRoles:    appValues.Bool("seed_roles"),
		BcryptCost:   appValues.Int("bcrypt_cost"),

		LoginRateLimit:  appValues.Int("login_rate_limit"),
		LoginRateWindow: appValues.Duration("login_rate_window", time.Minute),
		TrustProxy:      appValues.Bool("trust_proxy"),

		AuditLogAuth: appValues.String("audit_log_auth"),

		InvariantCheckInterval: appValues.Duration("invariant_check_interval", 5*time.Minute),
		InvariantGrace:         appValues.Duration("invariant_grace", 2*time.Minute),

		TimeoutShort: appValues.Duration("timeout_short", 0),
		TimeoutLong:  appValues.Duration("timeout_long", 0),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database is required")
	}
	if appCfg.MongoMinPoolSize > appCfg.MongoMaxPoolSize {
		return fmt.Errorf("mongo_min_pool_size (%d) exceeds mongo_max_pool_size (%d)",
			appCfg.MongoMinPoolSize, appCfg.MongoMaxPoolSize)
	}
	if _, err := provisioning.ParseLinkPolicy(appCfg.OAuthLinkPolicy); err != nil {
		return err
	}
	if appCfg.BcryptCost < bcrypt.MinCost || appCfg.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if appCfg.LoginRateLimit <= 0 || appCfg.LoginRateWindow <= 0 {
		return fmt.Errorf("login_rate_limit and login_rate_window must be positive")
	}
	switch appCfg.AuditLogAuth {
	case "all", "db", "log", "off":
	default:
		return fmt.Errorf("audit_log_auth must be one of all, db, log, off (got %q)", appCfg.AuditLogAuth)
	}
	if (appCfg.GoogleClientID == "") != (appCfg.GoogleClientSecret == "") {
		logger.Warn("only one of google_client_id / google_client_secret is set; Google login disabled")
	}
	return nil
}
