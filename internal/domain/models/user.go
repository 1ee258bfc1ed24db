// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a person who can sign in. Credentials live on Account records;
// PasswordHash is only populated for users who registered with email/password.
//
// NOTE:
//   - CurrentWorkspace is nil only while provisioning is in flight. Once the
//     provisioning unit commits it always points at a workspace the user owns.
type User struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Email            string              `bson:"email,omitempty" json:"email,omitempty"` // lowercased, trimmed
	Name             string              `bson:"name" json:"name"`
	ProfilePicture   string              `bson:"profile_picture,omitempty" json:"profile_picture,omitempty"`
	PasswordHash     string              `bson:"password,omitempty" json:"-"`
	CurrentWorkspace *primitive.ObjectID `bson:"current_workspace,omitempty" json:"current_workspace,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// WithoutPassword returns a copy of u with the credential digest cleared.
func (u User) WithoutPassword() User {
	u.PasswordHash = ""
	return u
}
