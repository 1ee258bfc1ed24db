package provisioning_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	workspacestore "github.com/dalemusser/taskhub/internal/app/store/workspaces"
	"github.com/dalemusser/taskhub/internal/app/system/authutil"
	"github.com/dalemusser/taskhub/internal/app/system/credentials"
	"github.com/dalemusser/taskhub/internal/app/system/provisioning"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/app/system/txn"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"github.com/dalemusser/taskhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type mongoEnv struct {
	svc      *provisioning.Service
	verifier *credentials.Verifier
	fx       *testutil.Fixtures
	db       *mongo.Database
}

func newMongoEnv(t *testing.T, policy provisioning.LinkPolicy, seed bool) mongoEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.RequireTransactions(t, db)
	fx := testutil.NewFixtures(t, db)

	if seed {
		ctx, cancel := testutil.TestContext()
		defer cancel()
		fx.SeedRoles(ctx)
	}

	users := userstore.New(db)
	accounts := accountstore.New(db)
	hasher := authutil.Bcrypt{Cost: bcrypt.MinCost}

	svc := provisioning.New(provisioning.Deps{
		Users:      users,
		Accounts:   accounts,
		Workspaces: workspacestore.New(db),
		Members:    memberstore.New(db),
		Roles:      roleregistry.New(rolestore.New(db), time.Minute, zap.NewNop()),
		Tx:         txn.New(db.Client(), zap.NewNop()),
		Hasher:     hasher,
		Log:        zap.NewNop(),
	}, policy)

	verifier, err := credentials.New(accounts, users, hasher, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("credentials.New: %v", err)
	}
	return mongoEnv{svc: svc, verifier: verifier, fx: fx, db: db}
}

func (e mongoEnv) counts(ctx context.Context) [4]int64 {
	return [4]int64{
		e.fx.Count(ctx, "users"),
		e.fx.Count(ctx, "accounts"),
		e.fx.Count(ctx, "workspaces"),
		e.fx.Count(ctx, "members"),
	}
}

func TestMongo_RegisterThenVerify(t *testing.T) {
	env := newMongoEnv(t, provisioning.LinkByEmail, true)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	reg, err := env.svc.RegisterWithCredentials(ctx, provisioning.RegisterInput{
		Email:    "Alice@Example.com",
		Name:     "Alice",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("RegisterWithCredentials: %v", err)
	}
	if got := env.counts(ctx); got != [4]int64{1, 1, 1, 1} {
		t.Fatalf("counts = %v, want one of each", got)
	}

	u, err := userstore.New(env.db).GetByID(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.CurrentWorkspace == nil || *u.CurrentWorkspace != reg.WorkspaceID {
		t.Errorf("current workspace = %v, want %v", u.CurrentWorkspace, reg.WorkspaceID)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cret-pass" {
		t.Error("password must be stored as a digest")
	}

	ws, err := workspacestore.New(env.db).GetByID(ctx, reg.WorkspaceID)
	if err != nil {
		t.Fatalf("workspace GetByID: %v", err)
	}
	if ws.Owner != reg.UserID {
		t.Errorf("workspace owner = %v, want %v", ws.Owner, reg.UserID)
	}
	if ws.Name != models.DefaultWorkspaceName {
		t.Errorf("workspace name = %q", ws.Name)
	}
	n, err := workspacestore.New(env.db).CountWithoutOwnerMember(ctx, ownerRoleID(t, env.db), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("CountWithoutOwnerMember: %v", err)
	}
	if n != 0 {
		t.Errorf("workspace lacks an OWNER member")
	}

	got, err := env.verifier.Verify(ctx, "alice@example.com", "s3cret-pass", models.ProviderEmail)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != reg.UserID {
		t.Errorf("Verify returned %v, want %v", got.ID, reg.UserID)
	}
	if _, err := env.verifier.Verify(ctx, "alice@example.com", "wrong", models.ProviderEmail); !errors.Is(err, credentials.ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
}

func TestMongo_RegisterDuplicateEmail(t *testing.T) {
	env := newMongoEnv(t, provisioning.LinkByEmail, true)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	in := provisioning.RegisterInput{Email: "bob@example.com", Name: "Bob", Password: "hunter22"}
	if _, err := env.svc.RegisterWithCredentials(ctx, in); err != nil {
		t.Fatalf("first register: %v", err)
	}
	in.Email = "BOB@example.com"
	if _, err := env.svc.RegisterWithCredentials(ctx, in); !errors.Is(err, provisioning.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if got := env.counts(ctx); got != [4]int64{1, 1, 1, 1} {
		t.Errorf("counts = %v after duplicate, want unchanged", got)
	}
}

func TestMongo_RegisterWithoutRolesLeavesNothing(t *testing.T) {
	env := newMongoEnv(t, provisioning.LinkByEmail, false)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := env.svc.RegisterWithCredentials(ctx, provisioning.RegisterInput{
		Email: "carol@example.com", Name: "Carol", Password: "pass1234",
	})
	if !errors.Is(err, provisioning.ErrRoleNotConfigured) {
		t.Fatalf("expected ErrRoleNotConfigured, got %v", err)
	}
	if got := env.counts(ctx); got != [4]int64{} {
		t.Errorf("counts = %v, want nothing written", got)
	}
}

func TestMongo_ConcurrentRegisterOneWinner(t *testing.T) {
	env := newMongoEnv(t, provisioning.LinkByEmail, true)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	const n = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RegisterWithCredentials(ctx, provisioning.RegisterInput{
				Email: "race@example.com", Name: "Racer", Password: "pass1234",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, provisioning.ErrDuplicateIdentity):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dups != n-1 {
		t.Errorf("ok=%d dups=%d, want 1 and %d", ok, dups, n-1)
	}
	if got := env.counts(ctx); got != [4]int64{1, 1, 1, 1} {
		t.Errorf("counts = %v, want one of each", got)
	}
}

func TestMongo_ProviderLoginIdempotent(t *testing.T) {
	env := newMongoEnv(t, provisioning.LinkByEmail, true)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	in := provisioning.ProviderLogin{
		Provider:    models.ProviderGoogle,
		ProviderID:  "google-123",
		DisplayName: "Dana",
		Email:       "dana@example.com",
	}
	first, err := env.svc.LoginOrCreateFromProvider(ctx, in)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if !first.Created {
		t.Error("first login should create")
	}
	second, err := env.svc.LoginOrCreateFromProvider(ctx, in)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Created || second.User.ID != first.User.ID || second.WorkspaceID != first.WorkspaceID {
		t.Errorf("second login = %+v, want existing %v", second, first.User.ID)
	}
	if got := env.counts(ctx); got != [4]int64{1, 1, 1, 1} {
		t.Errorf("counts = %v, want one of each", got)
	}

	// The Google account carries no password; email login must fail uniformly.
	if _, err := env.verifier.Verify(ctx, "dana@example.com", "anything", models.ProviderEmail); !errors.Is(err, credentials.ErrInvalidCredentials) {
		t.Errorf("Verify for provider-only user: got %v", err)
	}
}

func TestMongo_ProviderLoginStrictRefusesExistingEmail(t *testing.T) {
	env := newMongoEnv(t, provisioning.RequireProviderAccount, true)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := env.svc.RegisterWithCredentials(ctx, provisioning.RegisterInput{
		Email: "erin@example.com", Name: "Erin", Password: "pass1234",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := env.svc.LoginOrCreateFromProvider(ctx, provisioning.ProviderLogin{
		Provider:    models.ProviderGoogle,
		ProviderID:  "google-erin",
		DisplayName: "Erin",
		Email:       "erin@example.com",
	})
	if !errors.Is(err, provisioning.ErrProviderMismatch) {
		t.Fatalf("expected ErrProviderMismatch, got %v", err)
	}
	if got := env.counts(ctx); got != [4]int64{1, 1, 1, 1} {
		t.Errorf("counts = %v, want unchanged", got)
	}
}

func ownerRoleID(t *testing.T, db *mongo.Database) primitive.ObjectID {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	r, err := rolestore.New(db).GetByName(ctx, models.RoleOwner)
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	return r.ID
}
