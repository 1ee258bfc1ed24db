// internal/domain/models/member.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Member grants a user a role inside a workspace. (UserID, WorkspaceID) is
// unique. RoleID points into the roles collection; the role name is never
// copied onto the member.
type Member struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"`
	RoleID      primitive.ObjectID `bson:"role" json:"role"`
	JoinedAt    time.Time          `bson:"joined_at" json:"joined_at"`
}
