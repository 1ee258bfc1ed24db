// Package normalize canonicalizes user-supplied identity fields before they
// are stored or used as lookup keys.
package normalize

import (
	"strings"

	"github.com/dalemusser/taskhub/internal/domain/models"
)

// Email trims and lowercases an email address. Users are unique on this form.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and collapses internal runs of spaces.
// Case is preserved.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Provider returns the canonical upper-case form of p. Accounts are unique on
// this form, so "google" and "GOOGLE" name the same provider.
func Provider(p models.Provider) models.Provider {
	return models.Provider(strings.ToUpper(strings.TrimSpace(string(p))))
}

// ProviderID trims a provider-scoped identifier. For the EMAIL provider the
// identifier is the email itself and is normalized like one.
func ProviderID(p models.Provider, id string) string {
	if Provider(p) == models.ProviderEmail {
		return Email(id)
	}
	return strings.TrimSpace(id)
}
