package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultWorkspaceName is the name given to every user's home workspace.
const DefaultWorkspaceName = "My Workspace"

// Workspace is the top-level container for projects and tasks.
// Owner is the user who created it; that user always holds an OWNER
// Member record for the workspace.
type Workspace struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Owner       primitive.ObjectID `bson:"owner" json:"owner"`

	// InviteCode lets other users join; unique across workspaces.
	InviteCode string `bson:"invite_code" json:"invite_code"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
