// internal/domain/models/role.go
package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// RoleName is the closed set of workspace roles.
type RoleName string

const (
	RoleOwner  RoleName = "OWNER"
	RoleAdmin  RoleName = "ADMIN"
	RoleMember RoleName = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r RoleName) Valid() bool {
	_, ok := RolePermissions[r]
	return ok
}

// Permission is a single capability granted by a role.
type Permission string

const (
	PermCreateWorkspace         Permission = "CREATE_WORKSPACE"
	PermDeleteWorkspace         Permission = "DELETE_WORKSPACE"
	PermEditWorkspace           Permission = "EDIT_WORKSPACE"
	PermManageWorkspaceSettings Permission = "MANAGE_WORKSPACE_SETTINGS"
	PermAddMember               Permission = "ADD_MEMBER"
	PermChangeMemberRole        Permission = "CHANGE_MEMBER_ROLE"
	PermRemoveMember            Permission = "REMOVE_MEMBER"
	PermCreateProject           Permission = "CREATE_PROJECT"
	PermEditProject             Permission = "EDIT_PROJECT"
	PermDeleteProject           Permission = "DELETE_PROJECT"
	PermCreateTask              Permission = "CREATE_TASK"
	PermEditTask                Permission = "EDIT_TASK"
	PermDeleteTask              Permission = "DELETE_TASK"
	PermViewOnly                Permission = "VIEW_ONLY"
)

// RolePermissions is the static permission bundle for each role. Seeding
// copies these into the roles collection; nothing else writes roles.
var RolePermissions = map[RoleName][]Permission{
	RoleOwner: {
		PermCreateWorkspace,
		PermDeleteWorkspace,
		PermEditWorkspace,
		PermManageWorkspaceSettings,
		PermAddMember,
		PermChangeMemberRole,
		PermRemoveMember,
		PermCreateProject,
		PermEditProject,
		PermDeleteProject,
		PermCreateTask,
		PermEditTask,
		PermDeleteTask,
		PermViewOnly,
	},
	RoleAdmin: {
		PermAddMember,
		PermCreateProject,
		PermEditProject,
		PermDeleteProject,
		PermCreateTask,
		PermEditTask,
		PermDeleteTask,
		PermManageWorkspaceSettings,
		PermViewOnly,
	},
	RoleMember: {
		PermViewOnly,
		PermCreateTask,
		PermEditTask,
	},
}

// AllRoleNames returns the roles in seeding order.
func AllRoleNames() []RoleName {
	return []RoleName{RoleOwner, RoleAdmin, RoleMember}
}

// Role is a stored permission bundle. Members reference roles by ID.
type Role struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        RoleName           `bson:"name" json:"name"`
	Permissions []Permission       `bson:"permissions" json:"permissions"`
}

// Has reports whether the role grants p.
func (r Role) Has(p Permission) bool {
	for _, got := range r.Permissions {
		if got == p {
			return true
		}
	}
	return false
}
