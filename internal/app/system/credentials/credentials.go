// Package credentials verifies email/password logins.
package credentials

import (
	"context"
	"errors"
	"fmt"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/normalize"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials covers both an unknown account and a wrong
	// password. Callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountInconsistent means an account points at a user that does
	// not exist.
	ErrAccountInconsistent = errors.New("account references a missing user")
)

// dummyPassword is hashed once at construction so unknown accounts still
// pay for one full comparison.
const dummyPassword = "taskhub-timing-equalizer"

type AccountReader interface {
	GetByProvider(ctx context.Context, p models.Provider, providerID string) (models.Account, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// Hasher is a one-way password hash. authutil.Bcrypt satisfies it.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Compare(plaintext, digest string) bool
}

type Verifier struct {
	accounts AccountReader
	users    UserReader
	hasher   Hasher
	dummy    string
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New builds a Verifier. m may be nil.
func New(accounts AccountReader, users UserReader, hasher Hasher, m *metrics.Metrics, logger *zap.Logger) (*Verifier, error) {
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy digest: %w", err)
	}
	return &Verifier{
		accounts: accounts,
		users:    users,
		hasher:   hasher,
		dummy:    dummy,
		metrics:  m,
		log:      logger,
	}, nil
}

// Verify resolves (provider, email) to a user and checks the password.
// An empty provider means EMAIL. The returned user never carries the
// password digest.
func (v *Verifier) Verify(ctx context.Context, email, password string, provider models.Provider) (models.User, error) {
	if provider == "" {
		provider = models.ProviderEmail
	}

	acct, err := v.accounts.GetByProvider(ctx, provider, normalize.ProviderID(provider, email))
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			v.hasher.Compare(password, v.dummy)
			v.metrics.RecordCredentialCheck("invalid")
			return models.User{}, ErrInvalidCredentials
		}
		v.metrics.RecordCredentialCheck("error")
		return models.User{}, fmt.Errorf("lookup account: %w", err)
	}

	u, err := v.users.GetByID(ctx, acct.UserID)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			v.log.Error("account references missing user",
				zap.String("account_id", acct.ID.Hex()),
				zap.String("user_id", acct.UserID.Hex()),
				zap.String("provider", string(acct.Provider)))
			v.metrics.RecordCredentialCheck("inconsistent")
			return models.User{}, fmt.Errorf("%w: account %s", ErrAccountInconsistent, acct.ID.Hex())
		}
		v.metrics.RecordCredentialCheck("error")
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	digest := u.PasswordHash
	if digest == "" {
		// Provider-only user: nothing to match, but keep the cost.
		digest = v.dummy
	}
	if !v.hasher.Compare(password, digest) || digest == v.dummy {
		v.metrics.RecordCredentialCheck("invalid")
		return models.User{}, ErrInvalidCredentials
	}

	v.metrics.RecordCredentialCheck("ok")
	return u.WithoutPassword(), nil
}
