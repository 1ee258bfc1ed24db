package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	"github.com/dalemusser/taskhub/internal/app/system/htmlsanitize"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/normalize"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ProviderLogin is a first-contact or repeat login vouched for by an
// external identity provider.
type ProviderLogin struct {
	Provider    models.Provider
	ProviderID  string
	DisplayName string
	Email       string // optional
	Picture     string // optional
}

// ProviderResult is the user behind a provider login. Created is true when
// this call provisioned the user.
type ProviderResult struct {
	User        models.User
	WorkspaceID primitive.ObjectID
	Created     bool
}

// LoginOrCreateFromProvider returns the user behind a provider identity,
// provisioning one when none exists.
//
// Lookup order inside the unit:
//  1. an Account for (provider, provider_id) wins outright;
//  2. otherwise a user with the same email, handled per LinkPolicy;
//  3. otherwise a new user is provisioned.
//
// A repeat call performs no writes. If a concurrent call for the same
// identity commits first, the insert fails on a unique index; the call then
// re-reads once outside the aborted unit and returns the winner's user.
func (s *Service) LoginOrCreateFromProvider(ctx context.Context, in ProviderLogin) (res ProviderResult, err error) {
	start := time.Now()
	ctx, cancel, log := s.begin(ctx, metrics.EntryProviderLogin)
	defer cancel()
	defer func() {
		s.metrics.RecordProvisioning(metrics.EntryProviderLogin, resultLabel(err, res.Created), time.Since(start))
	}()

	p, ok := models.ParseProvider(string(in.Provider))
	if !ok {
		return ProviderResult{}, invalid("unknown provider")
	}
	if p == models.ProviderEmail {
		// EMAIL accounts carry a password and are created by registration only.
		return ProviderResult{}, invalid("email accounts must register with a password")
	}
	in.Provider = p
	in.ProviderID = normalize.ProviderID(in.Provider, in.ProviderID)
	in.Email = normalize.Email(in.Email)
	in.DisplayName = normalize.Name(htmlsanitize.PlainText(in.DisplayName))
	in.Picture = strings.TrimSpace(in.Picture)
	if in.ProviderID == "" {
		return ProviderResult{}, invalid("provider id is required")
	}
	if in.DisplayName == "" && in.Email != "" {
		in.DisplayName = strings.SplitN(in.Email, "@", 2)[0]
	}
	if in.DisplayName == "" {
		return ProviderResult{}, invalid("display name is required")
	}
	log = log.With(zap.String("provider", string(in.Provider)))

	owner, err := s.ownerRole(ctx)
	if err != nil {
		log.Error("cannot provision without owner role", zap.Error(err))
		return ProviderResult{}, err
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		existing, lerr := s.lookup(ctx, in)
		if lerr != nil {
			return lerr
		}
		if existing != nil {
			res = existingResult(*existing)
			return nil
		}

		u, ws, perr := s.provisionHome(ctx, log, homeSpec{
			user: models.User{
				Email:          in.Email,
				Name:           in.DisplayName,
				ProfilePicture: in.Picture,
			},
			account: models.Account{
				Provider:   in.Provider,
				ProviderID: in.ProviderID,
			},
		}, owner)
		if perr != nil {
			return perr
		}
		res = ProviderResult{User: u.WithoutPassword(), WorkspaceID: ws.ID, Created: true}
		return nil
	})

	if errors.Is(err, ErrDuplicateIdentity) {
		// Lost a race with a concurrent callback for the same identity.
		// One read-only re-lookup; nothing is retried.
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer rcancel()
		if existing, lerr := s.lookup(rctx, in); lerr == nil && existing != nil {
			log.Info("provider login resolved to concurrently created user",
				zap.String("user_id", existing.ID.Hex()))
			res = existingResult(*existing)
			return res, nil
		}
	}
	if err != nil {
		if errors.Is(err, ErrProviderMismatch) || errors.Is(err, ErrDuplicateIdentity) {
			log.Warn("provider login rejected", zap.Error(err))
		} else {
			log.Error("provider login failed; unit aborted", zap.Error(err))
		}
		return ProviderResult{}, err
	}

	if res.Created {
		log.Info("user provisioned from provider",
			zap.String("user_id", res.User.ID.Hex()),
			zap.String("workspace_id", res.WorkspaceID.Hex()))
	} else {
		log.Debug("provider login matched existing user", zap.String("user_id", res.User.ID.Hex()))
	}
	return res, nil
}

// lookup finds the existing user for a provider login, or returns nil.
func (s *Service) lookup(ctx context.Context, in ProviderLogin) (*models.User, error) {
	acct, err := s.accounts.GetByProvider(ctx, in.Provider, in.ProviderID)
	switch {
	case err == nil:
		u, uerr := s.users.GetByID(ctx, acct.UserID)
		if uerr != nil {
			// The account outlived its user; creating another binding for
			// the same identity would fail on the unique index anyway.
			return nil, fmt.Errorf("account %s references missing user %s: %w", acct.ID.Hex(), acct.UserID.Hex(), uerr)
		}
		return u, nil
	case !errors.Is(err, accountstore.ErrNotFound):
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if in.Email == "" {
		return nil, nil
	}
	u, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	// The email belongs to a user who never signed in with this provider
	// identity. LinkByEmail merges them onto one user (one account per
	// human, as the product has always behaved). RequireProviderAccount
	// refuses so an identity provider cannot claim an account just by
	// asserting its email.
	if s.policy == RequireProviderAccount {
		return nil, fmt.Errorf("%w: user %s", ErrProviderMismatch, u.ID.Hex())
	}
	return u, nil
}

func existingResult(u models.User) ProviderResult {
	res := ProviderResult{User: u.WithoutPassword()}
	if u.CurrentWorkspace != nil {
		res.WorkspaceID = *u.CurrentWorkspace
	}
	return res
}
