// Package collab defines the book collaboration permission model: roles,
// their capability sets, and the rules governing who may assign or manage whom.
package collab

// Role is a collaborator's standing on a book.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleEditor   Role = "editor"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// roleRank orders roles by privilege, higher means more.
var roleRank = map[Role]int{
	RoleOwner:    40,
	RoleEditor:   30,
	RoleReviewer: 20,
	RoleViewer:   10,
}

// Rank returns the privilege level of the role, zero for unknown roles.
func (r Role) Rank() int {
	return roleRank[r]
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// Roles lists all valid roles in descending privilege order.
func Roles() []Role {
	return []Role{RoleOwner, RoleEditor, RoleReviewer, RoleViewer}
}
