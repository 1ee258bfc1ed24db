// internal/domain/models/account.go
package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Provider identifies who vouches for an Account.
type Provider string

const (
	ProviderEmail    Provider = "EMAIL"
	ProviderGoogle   Provider = "GOOGLE"
	ProviderGitHub   Provider = "GITHUB"
	ProviderFacebook Provider = "FACEBOOK"
)

// AllProviders lists every supported provider.
var AllProviders = []Provider{ProviderEmail, ProviderGoogle, ProviderGitHub, ProviderFacebook}

// ParseProvider maps a case-insensitive name to a Provider.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllProviders {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// Account binds a User to one provider identity. (Provider, ProviderID) is
// unique; for the EMAIL provider ProviderID is the normalized email.
// Accounts are created once and never updated.
type Account struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	Provider   Provider           `bson:"provider" json:"provider"`
	ProviderID string             `bson:"provider_id" json:"provider_id"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
