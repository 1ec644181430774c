package collaboration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	_ "github.com/inkwell-press/inkwell/testing"
)

// newServer mounts the handler behind a principal-injecting middleware so
// tests exercise the full routing and decoding path.
func newServer(t *testing.T, f *fixture, principal auth.Principal) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.ContextWithPrincipal(req.Context(), principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	handler := collaboration.NewHandler(discardLogger(), f.service)
	handler.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestListCollaboratorsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.addEditor(t)
	srv := newServer(t, f, auth.Principal{ID: ownerID, Email: owner.Email})

	res := do(t, http.MethodGet, srv.URL+"/books/1/collaborators", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Collaborators []collaboration.Collaborator `json:"collaborators"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.Len(t, payload.Collaborators, 2)
	assert.Equal(t, collab.RoleOwner, payload.Collaborators[0].Role)
	assert.Equal(t, collab.RoleEditor, payload.Collaborators[1].Role)
}

func TestInviteEndpointValidation(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, auth.Principal{ID: ownerID, Email: owner.Email})

	res := do(t, http.MethodPost, srv.URL+"/books/1/invitations",
		`{"email":"not-an-email","role":"editor"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/books/1/invitations",
		`{"email":"b@example.com","role":"archduke"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/books/1/invitations",
		`{"email":"b@example.com","role":"editor","message":"join us"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var inv collaboration.Invitation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&inv))
	assert.Equal(t, collab.RoleEditor, inv.Role)
	assert.Equal(t, collaboration.InvitationPending, inv.Status)
}

func TestDuplicateInviteReturnsConflict(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, auth.Principal{ID: ownerID, Email: owner.Email})

	res := do(t, http.MethodPost, srv.URL+"/books/1/invitations",
		`{"email":"b@example.com","role":"viewer"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/books/1/invitations",
		`{"email":"B@Example.com","role":"viewer"}`)
	assert.Equal(t, http.StatusConflict, res.StatusCode, "email match is case insensitive")
}

func TestAcceptEndpointFlow(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.InviteCollaborator(context.Background(), bookID, owner, "b@example.com", collab.RoleReviewer, "")
	require.NoError(t, err)

	srv := newServer(t, f, auth.Principal{ID: inviteeID, Email: invitee.Email})

	res := do(t, http.MethodGet, srv.URL+"/invitations", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/invitations/"+itoa(inv.ID)+"/accept", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var accepted collaboration.Invitation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&accepted))
	assert.Equal(t, collaboration.InvitationAccepted, accepted.Status)

	collaborators, err := f.service.ListCollaborators(context.Background(), bookID, owner)
	require.NoError(t, err)
	require.Len(t, collaborators, 2)
	assert.Equal(t, collab.RoleReviewer, collaborators[1].Role)
}

func TestForeignAcceptReturnsForbidden(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.InviteCollaborator(context.Background(), bookID, owner, "b@example.com", collab.RoleViewer, "")
	require.NoError(t, err)

	srv := newServer(t, f, auth.Principal{ID: editorID, Email: editor.Email})
	res := do(t, http.MethodPost, srv.URL+"/invitations/"+itoa(inv.ID)+"/accept", "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestRemoveCollaboratorEndpoint(t *testing.T) {
	f := newFixture(t)
	c := f.addEditor(t)
	srv := newServer(t, f, auth.Principal{ID: ownerID, Email: owner.Email})

	res := do(t, http.MethodDelete, srv.URL+"/books/1/collaborators/"+itoa(c.ID), "")
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	collaborators, err := f.service.ListCollaborators(context.Background(), bookID, owner)
	require.NoError(t, err)
	assert.Len(t, collaborators, 1)
}

func TestAcceptExpiredReturnsGone(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.InviteCollaborator(context.Background(), bookID, owner, "b@example.com", collab.RoleViewer, "")
	require.NoError(t, err)

	f.repo.Now = func() time.Time { return time.Now().Add(collaboration.DefaultInvitationTTL + time.Hour) }

	srv := newServer(t, f, auth.Principal{ID: inviteeID, Email: invitee.Email})
	res := do(t, http.MethodPost, srv.URL+"/invitations/"+itoa(inv.ID)+"/accept", "")
	assert.Equal(t, http.StatusGone, res.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
