// internal/app/features/authgoogle/handler.go
package authgoogle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/auditlog"
	"github.com/dalemusser/taskhub/internal/app/system/auth"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/app/system/timeouts"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	providerName = "google"
	stateTTL     = 10 * time.Minute

	// DefaultUserInfoURL is Google's OAuth2 v2 userinfo endpoint.
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// StateStore persists single-use OAuth state values. *oauthstate.Store satisfies it.
type StateStore interface {
	Save(ctx context.Context, state, provider, returnTo string, expiresAt time.Time) error
	Consume(ctx context.Context, state, provider string) (returnTo string, valid bool, err error)
}

// Provisioner resolves or creates the user behind a provider identity.
type Provisioner interface {
	LoginOrCreateFromProvider(ctx context.Context, in provisioning.ProviderLogin) (provisioning.ProviderResult, error)
}

// Handler handles Google OAuth authentication.
type Handler struct {
	Log         *zap.Logger
	SessionMgr  *auth.SessionManager
	AuditLog    *auditlog.Logger
	StateStore  StateStore
	Provisioner Provisioner

	// OAuth configuration
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. "https://api.taskhub.dev/auth/google/callback"

	// FrontendOrigin is where the browser lands after the callback.
	FrontendOrigin string

	// Endpoint and UserInfoURL default to Google's; tests point them at a stub.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// NewHandler creates a new Google OAuth handler.
func NewHandler(
	sessionMgr *auth.SessionManager,
	audit *auditlog.Logger,
	stateStore StateStore,
	provisioner Provisioner,
	clientID, clientSecret, baseURL, frontendOrigin string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		Log:            logger,
		SessionMgr:     sessionMgr,
		AuditLog:       audit,
		StateStore:     stateStore,
		Provisioner:    provisioner,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		RedirectURL:    strings.TrimSuffix(baseURL, "/") + "/auth/google/callback",
		FrontendOrigin: strings.TrimSuffix(frontendOrigin, "/"),
		Endpoint:       google.Endpoint,
		UserInfoURL:    DefaultUserInfoURL,
	}
}

// oauth2Config returns the OAuth2 configuration for Google.
func (h *Handler) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RedirectURL:  h.RedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: h.Endpoint,
	}
}

// IsConfigured reports whether client credentials are present.
func (h *Handler) IsConfigured() bool {
	return h.ClientID != "" && h.ClientSecret != ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google                                                             |
| Generates a state value, stores it, and redirects to Google's consent page.  |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Google OAuth not configured")
		h.redirectFailure(w, r, "google_not_configured")
		return
	}

	state, err := generateState()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		h.redirectFailure(w, r, "internal")
		return
	}

	returnTo := urlutil.SafeReturn(r.URL.Query().Get("return"), "", "")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.StateStore.Save(ctx, state, providerName, returnTo, time.Now().UTC().Add(stateTTL)); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		h.redirectFailure(w, r, "internal")
		return
	}

	dest := h.oauth2Config().AuthCodeURL(state, oauth2.AccessTypeOnline)
	h.Log.Debug("initiating Google OAuth flow", zap.String("return_to", returnTo))
	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google/callback                                                    |
| Validates state, exchanges the code, fetches the profile, and hands it to    |
| provisioning.                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.Log.Warn("Google OAuth error",
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		h.AuditLog.OAuthFailed(ctx, r, providerName, "provider error: "+errParam)
		h.redirectFailure(w, r, "google_denied")
		return
	}

	state := q.Get("state")
	if state == "" {
		h.Log.Warn("missing OAuth state parameter")
		h.redirectFailure(w, r, "invalid_state")
		return
	}

	stateCtx, cancel := context.WithTimeout(ctx, timeouts.Short())
	returnTo, valid, err := h.StateStore.Consume(stateCtx, state, providerName)
	cancel()
	if err != nil {
		h.Log.Error("failed to validate OAuth state", zap.Error(err))
		h.redirectFailure(w, r, "internal")
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		h.AuditLog.OAuthFailed(ctx, r, providerName, "invalid state")
		h.redirectFailure(w, r, "invalid_state")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.Log.Warn("missing OAuth code parameter")
		h.redirectFailure(w, r, "invalid_code")
		return
	}

	exCtx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	token, err := h.oauth2Config().Exchange(exCtx, code)
	if err != nil {
		h.Log.Error("failed to exchange OAuth code", zap.Error(err))
		h.AuditLog.OAuthFailed(ctx, r, providerName, "token exchange")
		h.redirectFailure(w, r, "token_exchange")
		return
	}

	info, err := h.fetchUserInfo(exCtx, token)
	if err != nil {
		h.Log.Error("failed to fetch Google user info", zap.Error(err))
		h.AuditLog.OAuthFailed(ctx, r, providerName, "user info")
		h.redirectFailure(w, r, "user_info")
		return
	}

	login := provisioning.ProviderLogin{
		Provider:    models.ProviderGoogle,
		ProviderID:  info.ID,
		DisplayName: info.Name,
		Picture:     info.Picture,
	}
	// Unverified addresses never reach email linking.
	if info.EmailVerified {
		login.Email = info.Email
	}

	res, err := h.Provisioner.LoginOrCreateFromProvider(ctx, login)
	if err != nil {
		reason := "internal"
		switch {
		case errors.Is(err, provisioning.ErrProviderMismatch):
			reason = "provider_mismatch"
			h.Log.Info("Google OAuth: email registered with another method", zap.String("google_id", info.ID))
		case errors.Is(err, provisioning.ErrInvalidInput):
			reason = "invalid_profile"
			h.Log.Warn("Google OAuth: unusable profile", zap.String("google_id", info.ID), zap.Error(err))
		default:
			h.Log.Error("Google OAuth: provisioning failed", zap.String("google_id", info.ID), zap.Error(err))
		}
		h.AuditLog.OAuthFailed(ctx, r, providerName, reason)
		h.redirectFailure(w, r, reason)
		return
	}

	h.createSessionAndRedirect(w, r, res, returnTo)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Google profile                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// googleUserInfo represents user info returned from Google.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (h *Handler) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	resp, err := client.Get(h.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("user info has no id")
	}
	return &info, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Session creation                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) createSessionAndRedirect(w http.ResponseWriter, r *http.Request, res provisioning.ProviderResult, returnTo string) {
	u := res.User
	su := auth.SessionUser{
		ID:          u.ID.Hex(),
		Name:        u.Name,
		Email:       u.Email,
		WorkspaceID: res.WorkspaceID.Hex(),
	}
	if err := h.SessionMgr.LogIn(w, r, su); err != nil {
		h.Log.Error("save session failed", zap.Error(err), zap.String("user_id", su.ID))
		h.redirectFailure(w, r, "session")
		return
	}

	h.AuditLog.OAuthLogin(r.Context(), r, u.ID, res.WorkspaceID, providerName, res.Created)
	h.Log.Info("user logged in via Google OAuth",
		zap.String("user_id", su.ID),
		zap.String("workspace_id", su.WorkspaceID),
		zap.Bool("created", res.Created))

	dest := h.FrontendOrigin + "/workspace/" + su.WorkspaceID
	if returnTo != "" {
		dest = h.FrontendOrigin + returnTo
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, code string) {
	v := url.Values{}
	v.Set("status", "failure")
	v.Set("error", code)
	http.Redirect(w, r, h.FrontendOrigin+"/google/oauth/callback?"+v.Encode(), http.StatusSeeOther)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// generateState creates a cryptographically secure random state string.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
