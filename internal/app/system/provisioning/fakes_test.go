package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type unitKey struct{}

type memState struct {
	users      map[primitive.ObjectID]models.User
	accounts   map[primitive.ObjectID]models.Account
	workspaces map[primitive.ObjectID]models.Workspace
	members    map[primitive.ObjectID]models.Member
}

func newState() memState {
	return memState{
		users:      map[primitive.ObjectID]models.User{},
		accounts:   map[primitive.ObjectID]models.Account{},
		workspaces: map[primitive.ObjectID]models.Workspace{},
		members:    map[primitive.ObjectID]models.Member{},
	}
}

func (s memState) clone() memState {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.workspaces {
		c.workspaces[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	return c
}

// memDB is an in-memory store with serialized, rollback-capable units.
type memDB struct {
	t *testing.T

	txMu sync.Mutex // one unit at a time
	mu   sync.Mutex
	st   memState

	commits, aborts int
	writes          int
	outsideWrites   int

	failMember     error
	failSetCurrent error
	// onUserCreate, when set, runs before the user insert. Returning an
	// error fails the insert with it.
	onUserCreate func() error
	// afterAbort runs once after the next rollback; used to simulate a
	// concurrent unit that committed while ours was in flight.
	afterAbort func()
}

func newMemDB(t *testing.T) *memDB {
	return &memDB{t: t, st: newState()}
}

func (db *memDB) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snap := db.st.clone()
	db.mu.Unlock()

	if err := fn(context.WithValue(ctx, unitKey{}, true)); err != nil {
		db.mu.Lock()
		db.st = snap
		db.aborts++
		after := db.afterAbort
		db.afterAbort = nil
		db.mu.Unlock()
		if after != nil {
			after()
		}
		return err
	}

	db.mu.Lock()
	db.commits++
	db.mu.Unlock()
	return nil
}

// write must be called with db.mu held.
func (db *memDB) write(ctx context.Context) {
	db.writes++
	if ctx.Value(unitKey{}) == nil {
		db.outsideWrites++
	}
}

func (db *memDB) counts() (users, accounts, workspaces, members int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.st.users), len(db.st.accounts), len(db.st.workspaces), len(db.st.members)
}

// insertCommitted adds a fully provisioned user outside any unit.
func (db *memDB) insertCommitted(u models.User, a models.Account, owner models.Role) models.User {
	db.mu.Lock()
	defer db.mu.Unlock()

	u.ID = primitive.NewObjectID()
	ws := models.Workspace{ID: primitive.NewObjectID(), Name: models.DefaultWorkspaceName, Owner: u.ID}
	wsID := ws.ID
	u.CurrentWorkspace = &wsID
	a.ID = primitive.NewObjectID()
	a.UserID = u.ID

	db.st.users[u.ID] = u
	db.st.accounts[a.ID] = a
	db.st.workspaces[ws.ID] = ws
	m := models.Member{ID: primitive.NewObjectID(), UserID: u.ID, WorkspaceID: ws.ID, RoleID: owner.ID}
	db.st.members[m.ID] = m
	return u
}

type fakeUsers struct{ db *memDB }

func (f fakeUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.st.users[id]
	if !ok {
		return nil, userstore.ErrNotFound
	}
	return &u, nil
}

func (f fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.db.st.users {
		if email != "" && u.Email == email {
			return &u, nil
		}
	}
	return nil, userstore.ErrNotFound
}

func (f fakeUsers) Create(ctx context.Context, u models.User) (models.User, error) {
	if f.db.onUserCreate != nil {
		if err := f.db.onUserCreate(); err != nil {
			return models.User{}, err
		}
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.st.users {
		if u.Email != "" && existing.Email == u.Email {
			return models.User{}, userstore.ErrDuplicateEmail
		}
	}
	f.db.write(ctx)
	u.ID = primitive.NewObjectID()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	f.db.st.users[u.ID] = u
	return u, nil
}

func (f fakeUsers) SetCurrentWorkspace(ctx context.Context, userID, wsID primitive.ObjectID) error {
	if f.db.failSetCurrent != nil {
		return f.db.failSetCurrent
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.st.users[userID]
	if !ok {
		return userstore.ErrNotFound
	}
	f.db.write(ctx)
	u.CurrentWorkspace = &wsID
	f.db.st.users[userID] = u
	return nil
}

type fakeAccounts struct{ db *memDB }

func (f fakeAccounts) Create(ctx context.Context, a models.Account) (models.Account, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.st.accounts {
		if existing.Provider == a.Provider && existing.ProviderID == a.ProviderID {
			return models.Account{}, accountstore.ErrDuplicateAccount
		}
	}
	f.db.write(ctx)
	a.ID = primitive.NewObjectID()
	f.db.st.accounts[a.ID] = a
	return a, nil
}

func (f fakeAccounts) GetByProvider(ctx context.Context, p models.Provider, providerID string) (models.Account, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.st.accounts {
		if a.Provider == p && a.ProviderID == providerID {
			return a, nil
		}
	}
	return models.Account{}, accountstore.ErrNotFound
}

type fakeWorkspaces struct{ db *memDB }

func (f fakeWorkspaces) Create(ctx context.Context, ws models.Workspace) (models.Workspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.write(ctx)
	ws.ID = primitive.NewObjectID()
	ws.InviteCode = ws.ID.Hex()[16:]
	f.db.st.workspaces[ws.ID] = ws
	return ws, nil
}

type fakeMembers struct{ db *memDB }

func (f fakeMembers) Create(ctx context.Context, m models.Member) (models.Member, error) {
	if f.db.failMember != nil {
		return models.Member{}, f.db.failMember
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.st.members {
		if existing.UserID == m.UserID && existing.WorkspaceID == m.WorkspaceID {
			return models.Member{}, memberstore.ErrDuplicateMembership
		}
	}
	f.db.write(ctx)
	m.ID = primitive.NewObjectID()
	f.db.st.members[m.ID] = m
	return m, nil
}

type fakeRoles map[models.RoleName]models.Role

func (f fakeRoles) Resolve(ctx context.Context, name models.RoleName) (models.Role, error) {
	r, ok := f[name]
	if !ok {
		return models.Role{}, fmt.Errorf("%w: %s", roleregistry.ErrNotFound, name)
	}
	return r, nil
}

func seededRoles() fakeRoles {
	out := fakeRoles{}
	for _, n := range models.AllRoleNames() {
		out[n] = models.Role{ID: primitive.NewObjectID(), Name: n, Permissions: models.RolePermissions[n]}
	}
	return out
}

type fakeHasher struct{}

func (fakeHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("empty")
	}
	return "hashed:" + plaintext, nil
}

func newTestService(t *testing.T, policy LinkPolicy) (*Service, *memDB, fakeRoles) {
	t.Helper()
	db := newMemDB(t)
	roles := seededRoles()
	svc := New(Deps{
		Users:      fakeUsers{db},
		Accounts:   fakeAccounts{db},
		Workspaces: fakeWorkspaces{db},
		Members:    fakeMembers{db},
		Roles:      roles,
		Tx:         db,
		Hasher:     fakeHasher{},
		Log:        zap.NewNop(),
	}, policy)
	return svc, db, roles
}

// assertInvariant checks that every user with a current workspace owns
// exactly one workspace, that workspace is the current one, and exactly
// one OWNER member binds them. Users without a current workspace must not
// exist at all.
func assertInvariant(t *testing.T, db *memDB, owner models.Role) {
	t.Helper()
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.st.users {
		if u.CurrentWorkspace == nil {
			t.Errorf("user %s has no current workspace", u.ID.Hex())
			continue
		}
		owned := 0
		for _, ws := range db.st.workspaces {
			if ws.Owner == u.ID {
				owned++
				if ws.ID != *u.CurrentWorkspace {
					t.Errorf("user %s owns workspace %s that is not current", u.ID.Hex(), ws.ID.Hex())
				}
			}
		}
		if owned != 1 {
			t.Errorf("user %s owns %d workspaces, want 1", u.ID.Hex(), owned)
		}
		owners := 0
		for _, m := range db.st.members {
			if m.UserID == u.ID && m.WorkspaceID == *u.CurrentWorkspace && m.RoleID == owner.ID {
				owners++
			}
		}
		if owners != 1 {
			t.Errorf("user %s has %d OWNER members in current workspace, want 1", u.ID.Hex(), owners)
		}
	}
	if db.outsideWrites != 0 {
		t.Errorf("%d writes happened outside a unit", db.outsideWrites)
	}
}
