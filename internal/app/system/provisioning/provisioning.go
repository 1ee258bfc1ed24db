// Package provisioning creates a new user's identity, credential binding,
// home workspace and OWNER membership as one atomic unit.
//
// Both entry points, RegisterWithCredentials and LoginOrCreateFromProvider,
// run the same create sequence inside a single transaction:
//
//	User -> Account -> Workspace -> Member(OWNER) -> User.current_workspace
//
// Either every record commits or none does. The unique indexes on
// users.email and accounts.(provider, provider_id) are what actually stop
// concurrent duplicate signups; the lookup at the start of each unit only
// avoids doing work that is bound to fail.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/app/system/timeouts"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateIdentity means the email or provider identity is already
	// registered. It is user-correctable.
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrRoleNotConfigured means the OWNER role was never seeded. This is a
	// deployment error and must not be shown to users as their fault.
	ErrRoleNotConfigured = errors.New("owner role not configured")
	// ErrProviderMismatch is returned under RequireProviderAccount when the
	// email belongs to a user who never linked this provider identity.
	ErrProviderMismatch = errors.New("email is registered with a different sign-in method")
	// ErrInvalidInput wraps validation failures on the entry inputs.
	ErrInvalidInput = errors.New("invalid input")
)

// LinkPolicy decides what LoginOrCreateFromProvider does when the
// provider's email matches an existing user that holds no Account for the
// provider identity.
type LinkPolicy int

const (
	// LinkByEmail returns the existing user unchanged: one user per email,
	// whichever provider vouches for it.
	LinkByEmail LinkPolicy = iota
	// RequireProviderAccount refuses the login with ErrProviderMismatch.
	RequireProviderAccount
)

// ParseLinkPolicy maps the config value ("email" or "strict").
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch s {
	case "", "email":
		return LinkByEmail, nil
	case "strict":
		return RequireProviderAccount, nil
	}
	return LinkByEmail, fmt.Errorf("unknown link policy %q (want email or strict)", s)
}

func (p LinkPolicy) String() string {
	if p == RequireProviderAccount {
		return "strict"
	}
	return "email"
}

// UserStore is the subset of the users store the service needs.
type UserStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u models.User) (models.User, error)
	SetCurrentWorkspace(ctx context.Context, userID, wsID primitive.ObjectID) error
}

type AccountStore interface {
	Create(ctx context.Context, a models.Account) (models.Account, error)
	GetByProvider(ctx context.Context, p models.Provider, providerID string) (models.Account, error)
}

type WorkspaceStore interface {
	Create(ctx context.Context, ws models.Workspace) (models.Workspace, error)
}

type MemberStore interface {
	Create(ctx context.Context, m models.Member) (models.Member, error)
}

type RoleResolver interface {
	Resolve(ctx context.Context, name models.RoleName) (models.Role, error)
}

// UnitOfWork runs fn in one transaction; fn must pass the context it
// receives to every store call. *txn.Runner satisfies it.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// Deps wires the service's collaborators. Metrics may be nil.
type Deps struct {
	Users      UserStore
	Accounts   AccountStore
	Workspaces WorkspaceStore
	Members    MemberStore
	Roles      RoleResolver
	Tx         UnitOfWork
	Hasher     PasswordHasher
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Service is the single provisioning implementation behind both entry points.
type Service struct {
	users      UserStore
	accounts   AccountStore
	workspaces WorkspaceStore
	members    MemberStore
	roles      RoleResolver
	tx         UnitOfWork
	hasher     PasswordHasher
	metrics    *metrics.Metrics
	log        *zap.Logger
	policy     LinkPolicy
}

func New(d Deps, policy LinkPolicy) *Service {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:      d.Users,
		accounts:   d.Accounts,
		workspaces: d.Workspaces,
		members:    d.Members,
		roles:      d.Roles,
		tx:         d.Tx,
		hasher:     d.Hasher,
		metrics:    d.Metrics,
		log:        log,
		policy:     policy,
	}
}

// Policy reports the configured link policy.
func (s *Service) Policy() LinkPolicy { return s.policy }

// homeSpec is what the shared create sequence needs to know.
type homeSpec struct {
	user    models.User
	account models.Account
}

// provisionHome runs the User -> Account -> Workspace -> Member ->
// current_workspace sequence. ctx must be the unit's context.
func (s *Service) provisionHome(ctx context.Context, log *zap.Logger, home homeSpec, owner models.Role) (models.User, models.Workspace, error) {
	u, err := s.users.Create(ctx, home.user)
	if err != nil {
		return models.User{}, models.Workspace{}, mapDuplicate(fmt.Errorf("create user: %w", err))
	}
	log.Debug("user created", zap.String("user_id", u.ID.Hex()))

	acct := home.account
	acct.UserID = u.ID
	if _, err := s.accounts.Create(ctx, acct); err != nil {
		return models.User{}, models.Workspace{}, mapDuplicate(fmt.Errorf("create account: %w", err))
	}
	log.Debug("account created", zap.String("provider", string(acct.Provider)))

	ws, err := s.workspaces.Create(ctx, models.Workspace{
		Name:        models.DefaultWorkspaceName,
		Description: "Workspace created for " + u.Name,
		Owner:       u.ID,
	})
	if err != nil {
		return models.User{}, models.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	log.Debug("workspace created", zap.String("workspace_id", ws.ID.Hex()))

	if _, err := s.members.Create(ctx, models.Member{
		UserID:      u.ID,
		WorkspaceID: ws.ID,
		RoleID:      owner.ID,
		JoinedAt:    time.Now().UTC(),
	}); err != nil {
		return models.User{}, models.Workspace{}, fmt.Errorf("create owner member: %w", err)
	}
	log.Debug("owner member created")

	if err := s.users.SetCurrentWorkspace(ctx, u.ID, ws.ID); err != nil {
		return models.User{}, models.Workspace{}, fmt.Errorf("set current workspace: %w", err)
	}
	wsID := ws.ID
	u.CurrentWorkspace = &wsID

	return u, ws, nil
}

// ownerRole resolves OWNER before the unit starts. Roles are seeded data
// and not part of the unit.
func (s *Service) ownerRole(ctx context.Context) (models.Role, error) {
	role, err := s.roles.Resolve(ctx, models.RoleOwner)
	if err != nil {
		if errors.Is(err, roleregistry.ErrNotFound) {
			return models.Role{}, fmt.Errorf("%w: %w", ErrRoleNotConfigured, err)
		}
		return models.Role{}, fmt.Errorf("resolve owner role: %w", err)
	}
	return role, nil
}

// mapDuplicate turns a unique-key violation from the user or account
// insert into ErrDuplicateIdentity, keeping the store error in the chain.
func mapDuplicate(err error) error {
	if errors.Is(err, userstore.ErrDuplicateEmail) || errors.Is(err, accountstore.ErrDuplicateAccount) {
		return fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
	}
	return err
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// resultLabel classifies err for metrics.
func resultLabel(err error, created bool) string {
	switch {
	case err == nil && created:
		return "created"
	case err == nil:
		return "existing"
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrProviderMismatch):
		return "mismatch"
	case errors.Is(err, ErrRoleNotConfigured):
		return "role_missing"
	}
	return "error"
}

func (s *Service) begin(ctx context.Context, entry string) (context.Context, context.CancelFunc, *zap.Logger) {
	log := s.log.With(zap.String("provision_id", uuid.NewString()), zap.String("entry", entry))
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), log, "provisioning "+entry)
	return ctx, cancel, log
}
