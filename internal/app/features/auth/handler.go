// internal/app/features/auth/handler.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	workspacestore "github.com/dalemusser/taskhub/internal/app/store/workspaces"
	"github.com/dalemusser/taskhub/internal/app/system/auditlog"
	"github.com/dalemusser/taskhub/internal/app/system/auth"
	"github.com/dalemusser/taskhub/internal/app/system/credentials"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Registrar provisions email/password users.
type Registrar interface {
	RegisterWithCredentials(ctx context.Context, in provisioning.RegisterInput) (provisioning.Registration, error)
}

// CredentialChecker verifies email/password logins.
type CredentialChecker interface {
	Verify(ctx context.Context, email, password string, provider models.Provider) (models.User, error)
}

// WorkspaceDirectory looks up the caller's current workspace for /me.
// *workspacestore.Store, *memberstore.Store and *roleregistry.Registry
// satisfy the three readers.
type WorkspaceDirectory struct {
	Workspaces interface {
		GetByID(ctx context.Context, id primitive.ObjectID) (models.Workspace, error)
	}
	Members interface {
		Get(ctx context.Context, userID, workspaceID primitive.ObjectID) (models.Member, error)
	}
	Roles interface {
		ResolveID(ctx context.Context, id primitive.ObjectID) (models.Role, error)
	}
}

func (d WorkspaceDirectory) configured() bool {
	return d.Workspaces != nil && d.Members != nil && d.Roles != nil
}

// Handler serves the JSON auth endpoints under /api/auth.
type Handler struct {
	Log         *zap.Logger
	SessionMgr  *auth.SessionManager
	AuditLog    *auditlog.Logger
	Provisioner Registrar
	Verifier    CredentialChecker
	Directory   WorkspaceDirectory
}

func NewHandler(sessionMgr *auth.SessionManager, provisioner Registrar, verifier CredentialChecker, dir WorkspaceDirectory, auditLog *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Log:         logger,
		SessionMgr:  sessionMgr,
		AuditLog:    auditLog,
		Provisioner: provisioner,
		Verifier:    verifier,
		Directory:   dir,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message     string       `json:"message"`
	User        *models.User `json:"user,omitempty"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
}

// ServeRegister handles POST /api/auth/register.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}

	reg, err := h.Provisioner.RegisterWithCredentials(r.Context(), provisioning.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		h.AuditLog.RegistrationFailed(r.Context(), r, req.Email, failureReason(err))
		status, msg := registerError(err)
		if status == http.StatusInternalServerError {
			h.Log.Error("register failed", zap.Error(err))
		}
		writeJSON(w, status, messageResponse{Message: msg})
		return
	}

	h.AuditLog.RegistrationSuccess(r.Context(), r, reg.UserID, reg.WorkspaceID, req.Email)
	writeJSON(w, http.StatusCreated, messageResponse{
		Message:     "User created successfully",
		WorkspaceID: reg.WorkspaceID.Hex(),
	})
}

// ServeLogin handles POST /api/auth/login. Every credential failure gets
// the same 401 body; the audit trail keeps the actual reason.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}

	u, err := h.Verifier.Verify(r.Context(), req.Email, req.Password, models.ProviderEmail)
	if err != nil {
		h.AuditLog.LoginFailed(r.Context(), r, req.Email, failureReason(err))
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Invalid email or password"})
			return
		}
		h.Log.Error("login failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
		return
	}

	su := auth.SessionUser{ID: u.ID.Hex(), Name: u.Name, Email: u.Email}
	if u.CurrentWorkspace != nil {
		su.WorkspaceID = u.CurrentWorkspace.Hex()
	}
	if err := h.SessionMgr.LogIn(w, r, su); err != nil {
		h.Log.Error("login: save session", zap.Error(err), zap.String("user_id", su.ID))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
		return
	}

	h.AuditLog.LoginSuccess(r.Context(), r, u.ID, string(models.ProviderEmail), u.Email)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged in successfully", User: &u})
}

// ServeLogout handles POST /api/auth/logout.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if u, ok := auth.CurrentUser(r); ok {
		userID = u.ID
	}
	if err := h.SessionMgr.LogOut(w, r); err != nil {
		h.Log.Error("logout", zap.Error(err))
	}
	h.AuditLog.Logout(r.Context(), r, userID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

type meResponse struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email,omitempty"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
	Workspace   *meWorkspace `json:"workspace,omitempty"`
}

type meWorkspace struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Role        models.RoleName     `json:"role"`
	Permissions []models.Permission `json:"permissions"`
	// InviteCode is only shown to roles that may add members.
	InviteCode string `json:"invite_code,omitempty"`
}

// ServeMe handles GET /api/auth/me.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	resp := meResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		WorkspaceID: u.WorkspaceID,
	}
	ws, err := h.currentWorkspace(r.Context(), u)
	if err != nil {
		h.Log.Error("me: load workspace", zap.Error(err), zap.String("user_id", u.ID))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
		return
	}
	resp.Workspace = ws
	writeJSON(w, http.StatusOK, resp)
}

// currentWorkspace returns nil without error when the session has no
// workspace or the workspace or membership has since disappeared.
func (h *Handler) currentWorkspace(ctx context.Context, u *auth.SessionUser) (*meWorkspace, error) {
	if !h.Directory.configured() || u.WorkspaceID == "" {
		return nil, nil
	}
	userID, err := primitive.ObjectIDFromHex(u.ID)
	if err != nil {
		return nil, nil
	}
	wsID, err := primitive.ObjectIDFromHex(u.WorkspaceID)
	if err != nil {
		return nil, nil
	}

	ws, err := h.Directory.Workspaces.GetByID(ctx, wsID)
	if errors.Is(err, workspacestore.ErrNotFound) {
		h.Log.Warn("me: workspace gone", zap.String("workspace_id", u.WorkspaceID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := h.Directory.Members.Get(ctx, userID, wsID)
	if errors.Is(err, memberstore.ErrNotFound) {
		h.Log.Warn("me: not a member", zap.String("user_id", u.ID), zap.String("workspace_id", u.WorkspaceID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	role, err := h.Directory.Roles.ResolveID(ctx, m.RoleID)
	if err != nil {
		return nil, err
	}

	out := &meWorkspace{
		ID:          ws.ID.Hex(),
		Name:        ws.Name,
		Role:        role.Name,
		Permissions: role.Permissions,
	}
	if role.Has(models.PermAddMember) {
		out.InviteCode = ws.InviteCode
	}
	return out, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

const maxBodyBytes = 1 << 16

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func registerError(err error) (int, string) {
	switch {
	case errors.Is(err, provisioning.ErrDuplicateIdentity):
		return http.StatusConflict, "Email already exists"
	case errors.Is(err, provisioning.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, provisioning.ErrDuplicateIdentity):
		return "duplicate email"
	case errors.Is(err, provisioning.ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, provisioning.ErrRoleNotConfigured):
		return "role not configured"
	case errors.Is(err, credentials.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, credentials.ErrAccountInconsistent):
		return "account inconsistent"
	default:
		return "internal error"
	}
}
