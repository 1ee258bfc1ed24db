// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// WAFFLE's CoreConfig handles framework-level settings (ports, TLS, log
// level, CORS, body limits). Everything specific to TaskHub lives here and
// is passed to every lifecycle hook.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string; transactions need a replica set
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name for sessions (default: taskhub-session)
	SessionDomain string // Cookie domain (blank means current host)
	SessionMaxAge time.Duration

	// Public URLs
	BaseURL        string // this API, used for OAuth callbacks
	FrontendOrigin string // browser app that OAuth callbacks land on

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	OAuthLinkPolicy    string // "email" or "strict"

	// Provisioning
	RoleCacheTTL time.Duration
	SeedRoles    bool // seed OWNER/ADMIN/MEMBER during EnsureSchema
	BcryptCost   int

	// Login rate limiting (per client IP)
	LoginRateLimit  int
	LoginRateWindow time.Duration
	// TrustProxy takes the client IP from X-Real-IP / X-Forwarded-For.
	// Enable only when a proxy that overwrites those headers fronts the app.
	TrustProxy bool

	// Audit logging: "all", "db", "log", or "off"
	AuditLogAuth string

	// Invariant check worker; a zero interval disables it
	InvariantCheckInterval time.Duration
	InvariantGrace         time.Duration

	// Timeouts (zero keeps the package defaults)
	TimeoutShort time.Duration
	TimeoutLong  time.Duration
}
