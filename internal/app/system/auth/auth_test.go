package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/taskhub/internal/app/system/auth"
	"go.uber.org/zap"
)

func newTestSessionManager(t *testing.T) *auth.SessionManager {
	t.Helper()
	sm, err := auth.NewSessionManager(
		"test-session-key-must-be-32-chars-long",
		"test-session",
		"",
		24*time.Hour,
		false,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	return sm
}

func TestNewSessionManager_EmptyKey(t *testing.T) {
	_, err := auth.NewSessionManager("", "s", "", time.Hour, false, zap.NewNop())
	if err != auth.ErrEmptySessionKey {
		t.Fatalf("expected ErrEmptySessionKey, got %v", err)
	}
}

func TestNewSessionManager_SameSite(t *testing.T) {
	key := "test-session-key-must-be-32-chars-long"
	tests := []struct {
		secure bool
		want   http.SameSite
	}{
		{false, http.SameSiteLaxMode},
		{true, http.SameSiteNoneMode},
	}
	for _, tc := range tests {
		sm, err := auth.NewSessionManager(key, "s", "", time.Hour, tc.secure, zap.NewNop())
		if err != nil {
			t.Fatalf("NewSessionManager: %v", err)
		}
		opts := sm.Store().Options
		if opts.SameSite != tc.want || opts.Secure != tc.secure || !opts.HttpOnly {
			t.Errorf("secure=%v: got options %+v", tc.secure, opts)
		}
	}
}

func TestRequireSignedIn_NoUser_RedirectsToLogin(t *testing.T) {
	sm := newTestSessionManager(t)

	handler := sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected status %d, got %d", http.StatusSeeOther, rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/login") {
		t.Errorf("expected redirect to /login, got %q", loc)
	}
}

func TestRequireSignedIn_NoUser_API_Returns401(t *testing.T) {
	sm := newTestSessionManager(t)

	handler := sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected a message in the 401 body")
	}
}

func TestRequireSignedIn_NoUser_HTMX_ReturnsHXRedirect(t *testing.T) {
	sm := newTestSessionManager(t)

	handler := sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if hx := rec.Header().Get("HX-Redirect"); !strings.HasPrefix(hx, "/login") {
		t.Errorf("expected HX-Redirect to /login, got %q", hx)
	}
}

func TestLogIn_RoundTripThroughLoadSessionUser(t *testing.T) {
	sm := newTestSessionManager(t)

	want := auth.SessionUser{
		ID:          "507f1f77bcf86cd799439011",
		Name:        "Alice",
		Email:       "alice@example.com",
		WorkspaceID: "507f1f77bcf86cd799439012",
	}

	loginRec := httptest.NewRecorder()
	if err := sm.LogIn(loginRec, httptest.NewRequest("POST", "/api/auth/login", nil), want); err != nil {
		t.Fatalf("LogIn: %v", err)
	}
	cookies := loginRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}

	var got *auth.SessionUser
	handler := sm.LoadSessionUser(sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.CurrentUser(r)
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || *got != want {
		t.Errorf("session user = %+v, want %+v", got, want)
	}
}

func TestLogOut_ExpiresCookie(t *testing.T) {
	sm := newTestSessionManager(t)

	rec := httptest.NewRecorder()
	if err := sm.LogOut(rec, httptest.NewRequest("POST", "/api/auth/logout", nil)); err != nil {
		t.Fatalf("LogOut: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Errorf("expected negative MaxAge, got %d", cookies[0].MaxAge)
	}
}

func TestLoadSessionUser_TamperedCookie(t *testing.T) {
	sm := newTestSessionManager(t)

	called := false
	handler := sm.LoadSessionUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := auth.CurrentUser(r); ok {
			t.Error("tampered cookie must not yield a user")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "test-session", Value: "garbage"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("expected next handler to be called")
	}
}

func TestCurrentUser_NoUser(t *testing.T) {
	user, ok := auth.CurrentUser(httptest.NewRequest("GET", "/", nil))
	if ok || user != nil {
		t.Errorf("expected no user, got %+v", user)
	}
}

func TestCurrentUser_WithUser(t *testing.T) {
	req := auth.WithUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{
		ID:    "507f1f77bcf86cd799439011",
		Email: "test@example.com",
	})

	user, ok := auth.CurrentUser(req)
	if !ok || user == nil {
		t.Fatal("expected user in context")
	}
	if user.Email != "test@example.com" {
		t.Errorf("expected email test@example.com, got %q", user.Email)
	}
}
