package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	"github.com/dalemusser/taskhub/internal/app/system/authutil"
	"github.com/dalemusser/taskhub/internal/app/system/htmlsanitize"
	"github.com/dalemusser/taskhub/internal/app/system/metrics"
	"github.com/dalemusser/taskhub/internal/app/system/normalize"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// RegisterInput is an email/password signup.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// Registration identifies the records created by RegisterWithCredentials.
type Registration struct {
	UserID      primitive.ObjectID
	WorkspaceID primitive.ObjectID
}

// RegisterWithCredentials provisions a new email/password user.
// It fails with ErrDuplicateIdentity if the email is already registered,
// including when a concurrent registration for the same email wins.
func (s *Service) RegisterWithCredentials(ctx context.Context, in RegisterInput) (reg Registration, err error) {
	start := time.Now()
	ctx, cancel, log := s.begin(ctx, metrics.EntryRegister)
	defer cancel()
	defer func() {
		s.metrics.RecordProvisioning(metrics.EntryRegister, resultLabel(err, err == nil), time.Since(start))
	}()

	email := normalize.Email(in.Email)
	name := normalize.Name(htmlsanitize.PlainText(in.Name))
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return Registration{}, invalid("a valid email is required")
	case name == "":
		return Registration{}, invalid("name is required")
	}
	if perr := authutil.ValidatePassword(in.Password); perr != nil {
		return Registration{}, fmt.Errorf("%w: %w", ErrInvalidInput, perr)
	}

	owner, err := s.ownerRole(ctx)
	if err != nil {
		log.Error("cannot provision without owner role", zap.Error(err))
		return Registration{}, err
	}

	// bcrypt is slow; keep it out of the transaction.
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Registration{}, fmt.Errorf("hash password: %w", err)
	}

	var u models.User
	var ws models.Workspace
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		existing, gerr := s.users.GetByEmail(ctx, email)
		switch {
		case gerr == nil && existing != nil:
			return fmt.Errorf("%w: email %s", ErrDuplicateIdentity, email)
		case gerr != nil && !errors.Is(gerr, userstore.ErrNotFound):
			return fmt.Errorf("lookup user by email: %w", gerr)
		}

		var perr error
		u, ws, perr = s.provisionHome(ctx, log, homeSpec{
			user: models.User{Email: email, Name: name, PasswordHash: digest},
			account: models.Account{
				Provider:   models.ProviderEmail,
				ProviderID: email,
			},
		}, owner)
		return perr
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			log.Info("registration rejected: duplicate identity", zap.String("email", email))
		} else {
			log.Error("registration failed; unit aborted", zap.String("email", email), zap.Error(err))
		}
		return Registration{}, err
	}

	log.Info("user registered",
		zap.String("user_id", u.ID.Hex()),
		zap.String("workspace_id", ws.ID.Hex()))
	return Registration{UserID: u.ID, WorkspaceID: ws.ID}, nil
}
