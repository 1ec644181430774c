package collab

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// DisplayName returns the human-readable label for a role.
func DisplayName(role Role) string {
	if !role.IsValid() {
		return "Unknown"
	}
	return titleCaser.String(string(role))
}

// Color returns the badge color associated with a role.
func Color(role Role) string {
	switch role {
	case RoleOwner:
		return "#7c3aed"
	case RoleEditor:
		return "#2563eb"
	case RoleReviewer:
		return "#d97706"
	case RoleViewer:
		return "#6b7280"
	default:
		return "#6b7280"
	}
}

// Initials derives up to two uppercase initials from a display name, falling
// back to the first letter of the email when the name is empty.
func Initials(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		if email == "" {
			return "?"
		}
		return strings.ToUpper(email[:1])
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return strings.ToUpper(parts[0][:1])
	}
	return strings.ToUpper(parts[0][:1] + parts[len(parts)-1][:1])
}
