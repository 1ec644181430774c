package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/inkwell-press/inkwell/testing"
)

// The repositories address these columns by name; the DDL must declare every
// one of them or a fresh deployment fails on first query.
func TestSchemaDeclaresRepositoryColumns(t *testing.T) {
	columns := map[string][]string{
		"users": {"id", "email", "name", "password_hash", "is_active", "created_at", "updated_at"},
		"books": {"id", "title", "author_id", "status", "created_at", "updated_at"},
		"book_collaborators": {
			"id", "book_id", "user_id", "role",
			"can_edit", "can_review", "can_invite", "can_delete", "can_publish",
			"invited_by", "joined_at", "created_at",
		},
		"collaboration_invitations": {
			"id", "book_id", "inviter_id", "invitee_email", "invitee_id", "role",
			"can_edit", "can_review", "can_invite", "can_delete", "can_publish",
			"message", "status", "expires_at", "created_at", "updated_at",
		},
		"editing_sessions": {
			"id", "book_id", "user_id", "section_id", "section_type", "cursor", "last_activity",
		},
		"user_presence": {
			"book_id", "user_id", "section_id", "is_online", "metadata", "last_seen",
		},
		"book_comments": {
			"id", "book_id", "section_id", "user_id", "parent_id", "kind", "status",
			"body", "offset_start", "offset_end", "created_at", "updated_at",
		},
	}

	for table, cols := range columns {
		body := tableBody(t, table)
		for _, col := range cols {
			assert.Contains(t, body, "\n\t"+col+" ", "table %s missing column %s", table, col)
		}
	}
}

func TestSchemaEnforcesPendingInvitationUniqueness(t *testing.T) {
	assert.Contains(t, ddl, "CREATE UNIQUE INDEX IF NOT EXISTS uq_invitations_pending")
	assert.Contains(t, ddl, "ON collaboration_invitations (book_id, lower(invitee_email))")
	assert.Contains(t, ddl, "WHERE status = 'pending'")
}

func tableBody(t *testing.T, table string) string {
	t.Helper()
	marker := "CREATE TABLE IF NOT EXISTS " + table + " ("
	start := strings.Index(ddl, marker)
	if start < 0 {
		t.Fatalf("table %s not declared", table)
	}
	rest := ddl[start+len(marker):]
	end := strings.Index(rest, ");")
	if end < 0 {
		t.Fatalf("table %s not terminated", table)
	}
	return rest[:end]
}
