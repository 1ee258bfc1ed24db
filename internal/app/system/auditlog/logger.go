// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/taskhub/internal/app/store/audit"
	"github.com/dalemusser/taskhub/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for authentication events.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
}

// EventWriter persists audit events. *audit.Store satisfies it.
type EventWriter interface {
	Log(ctx context.Context, event audit.Event) error
}

// Logger provides convenience methods for logging audit events.
type Logger struct {
	store  EventWriter
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store EventWriter, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.WorkspaceID != nil {
		fields = append(fields, zap.String("workspace_id", event.WorkspaceID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// A nil Logger is a no-op so handlers can run without auditing.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	setting := "all"
	if event.Category == audit.CategoryAuth && l.config.Auth != "" {
		setting = l.config.Auth
	}
	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func authEvent(r *http.Request, eventType string, success bool) audit.Event {
	return audit.Event{
		Category:  audit.CategoryAuth,
		EventType: eventType,
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   success,
	}
}

// RegistrationSuccess logs a completed email/password registration.
func (l *Logger) RegistrationSuccess(ctx context.Context, r *http.Request, userID, workspaceID primitive.ObjectID, email string) {
	e := authEvent(r, audit.EventRegistrationSuccess, true)
	e.UserID = &userID
	e.WorkspaceID = &workspaceID
	e.Details = map[string]string{"email": email}
	l.Log(ctx, e)
}

// RegistrationFailed logs a rejected registration.
func (l *Logger) RegistrationFailed(ctx context.Context, r *http.Request, email, reason string) {
	e := authEvent(r, audit.EventRegistrationFailed, false)
	e.FailureReason = reason
	e.Details = map[string]string{"email": email}
	l.Log(ctx, e)
}

// LoginSuccess logs a successful login.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider, email string) {
	e := authEvent(r, audit.EventLoginSuccess, true)
	e.UserID = &userID
	e.Details = map[string]string{"provider": provider, "email": email}
	l.Log(ctx, e)
}

// LoginFailed logs a failed login. The reason is recorded for operators;
// clients always receive the same message.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, attemptedEmail, reason string) {
	e := authEvent(r, audit.EventLoginFailed, false)
	e.FailureReason = reason
	e.Details = map[string]string{"attempted_email": attemptedEmail}
	l.Log(ctx, e)
}

// LoginRateLimited logs a login rejected by the rate limiter.
func (l *Logger) LoginRateLimited(ctx context.Context, r *http.Request) {
	e := authEvent(r, audit.EventLoginFailedRateLimit, false)
	e.FailureReason = "rate limit exceeded"
	l.Log(ctx, e)
}

// Logout logs a user logout.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userIDStr string) {
	e := authEvent(r, audit.EventLogout, true)
	if oid, err := primitive.ObjectIDFromHex(userIDStr); err == nil {
		e.UserID = &oid
	}
	l.Log(ctx, e)
}

// OAuthLogin logs a provider login. created marks first-contact provisioning.
func (l *Logger) OAuthLogin(ctx context.Context, r *http.Request, userID, workspaceID primitive.ObjectID, provider string, created bool) {
	eventType := audit.EventOAuthLogin
	if created {
		eventType = audit.EventOAuthUserCreated
	}
	e := authEvent(r, eventType, true)
	e.UserID = &userID
	if !workspaceID.IsZero() {
		e.WorkspaceID = &workspaceID
	}
	e.Details = map[string]string{"provider": provider, "created": strconv.FormatBool(created)}
	l.Log(ctx, e)
}

// OAuthFailed logs a failed provider callback.
func (l *Logger) OAuthFailed(ctx context.Context, r *http.Request, provider, reason string) {
	e := authEvent(r, audit.EventOAuthFailed, false)
	e.FailureReason = reason
	e.Details = map[string]string{"provider": provider}
	l.Log(ctx, e)
}
