package collab

// PermissionSet is the capability vector derived from a role. Role is the
// sole source of truth: a role change must rewrite the whole set.
type PermissionSet struct {
	CanEdit    bool `json:"can_edit"`
	CanReview  bool `json:"can_review"`
	CanInvite  bool `json:"can_invite"`
	CanDelete  bool `json:"can_delete"`
	CanPublish bool `json:"can_publish"`
}

var rolePermissions = map[Role]PermissionSet{
	RoleOwner:    {CanEdit: true, CanReview: true, CanInvite: true, CanDelete: true, CanPublish: true},
	RoleEditor:   {CanEdit: true, CanReview: true},
	RoleReviewer: {CanReview: true},
	RoleViewer:   {},
}

// PermissionsFor returns the capability set for the role. Unknown roles get
// the empty set.
func PermissionsFor(role Role) PermissionSet {
	return rolePermissions[role]
}

// CanAssignRole reports whether an actor holding acting may offer target to
// someone else. Nobody assigns owner through this path; ownership transfer is
// a separate concern and is not supported. Everyone else may only hand out
// roles strictly below their own rank.
func CanAssignRole(acting, target Role) bool {
	if !acting.IsValid() || !target.IsValid() {
		return false
	}
	if target == RoleOwner {
		return false
	}
	return target.Rank() < acting.Rank()
}

// AssignableRoles returns the roles acting is permitted to offer when
// inviting, in descending privilege order.
func AssignableRoles(acting Role) []Role {
	var out []Role
	for _, r := range Roles() {
		if CanAssignRole(acting, r) {
			out = append(out, r)
		}
	}
	return out
}

// CanManage reports whether an actor holding acting may change or remove a
// collaborator holding target. Only owners and editors qualify, and only over
// collaborators of strictly lower rank. Peers, superiors, and owners are
// never manageable. Callers must additionally reject self-management, which
// needs identities this package does not see.
func CanManage(acting, target Role) bool {
	if !acting.IsValid() || !target.IsValid() {
		return false
	}
	if target == RoleOwner {
		return false
	}
	if acting != RoleOwner && acting != RoleEditor {
		return false
	}
	return target.Rank() < acting.Rank()
}
