package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/shared"
	_ "github.com/inkwell-press/inkwell/testing"
)

type stubRepo struct {
	user *auth.User
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrInvalidCredentials
	}
	return s.user, nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager)
	return handler, sessionManager
}

func requestWithSession(t *testing.T, sm *shared.SessionManager, method, target, body string) (*http.Request, *shared.Session) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func TestLoginSetsSessionUser(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	handler, sm := newAuthHandler(t, &stubRepo{user: &auth.User{ID: 7, Email: "olive@example.com", PasswordHash: string(hashed), IsActive: true}})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"olive@example.com","password":"correctpass"}`)
	res := httptest.NewRecorder()
	handler.Login(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != 7 {
		t.Fatalf("expected session user 7, got %d", sess.User())
	}
	if !strings.Contains(res.Header().Get("Set-Cookie"), "test_session=") {
		t.Fatalf("expected session cookie, got %q", res.Header().Get("Set-Cookie"))
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	handler, sm := newAuthHandler(t, &stubRepo{user: &auth.User{ID: 7, Email: "olive@example.com", PasswordHash: string(hashed), IsActive: true}})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"olive@example.com","password":"wrong"}`)
	res := httptest.NewRecorder()
	handler.Login(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", res.Code)
	}
	if sess.User() != 0 {
		t.Fatalf("failed login must not bind a user, got %d", sess.User())
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	handler, sm := newAuthHandler(t, &stubRepo{})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/logout", "")
	sess.SetUser(7, "olive@example.com")
	res := httptest.NewRecorder()
	handler.Logout(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", res.Code)
	}
	if !strings.Contains(res.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected cookie reset, got %q", res.Header().Get("Set-Cookie"))
	}
}

func TestRequireUserRejectsAnonymous(t *testing.T) {
	_, sm := newAuthHandler(t, &stubRepo{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("expected principal in context")
		}
		if p.ID != 7 {
			t.Fatalf("expected principal 7, got %d", p.ID)
		}
		w.WriteHeader(http.StatusOK)
	})
	guarded := auth.RequireUser(next)

	req, _ := requestWithSession(t, sm, http.MethodGet, "/books/1/collaborators", "")
	res := httptest.NewRecorder()
	guarded.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for anonymous, got %d", res.Code)
	}

	req, sess := requestWithSession(t, sm, http.MethodGet, "/books/1/collaborators", "")
	sess.SetUser(7, "olive@example.com")
	res = httptest.NewRecorder()
	guarded.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200 for authenticated, got %d", res.Code)
	}
}
