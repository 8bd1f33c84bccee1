package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/store"
)

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "id.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesCookieAndUser(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)

	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !IsValidAnonID(gotUser) {
		t.Fatalf("expected generated anon id, got %q", gotUser)
	}
	if gotSession != "tab-42" {
		t.Fatalf("expected tab-42, got %q", gotSession)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	user, err := repo.GetUser(context.Background(), gotUser)
	if err != nil || user == nil {
		t.Fatalf("expected persisted user, got %v err=%v", user, err)
	}
	if user.Username != "anon-"+gotUser[len(gotUser)-8:] {
		t.Fatalf("unexpected username %q", user.Username)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)

	existing := "anon_0123456789abcdef0123456789abcdef"
	var gotUser string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?session_id=../../etc", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != existing {
		t.Fatalf("expected cookie id to be reused, got %q", gotUser)
	}
}

func TestEnsureUserRefreshesStaleLastSeen(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := repo.UpsertUser(ctx, &domain.User{
		UserID: "anon_x", Username: "anon-user", LastSeenAt: stale, CreatedAt: stale, UpdatedAt: stale,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	if err := ensureUser(ctx, repo, "anon_x"); err != nil {
		t.Fatalf("ensureUser failed: %v", err)
	}
	user, _ := repo.GetUser(ctx, "anon_x")
	if !user.LastSeenAt.After(stale) {
		t.Fatalf("expected last seen to advance past %v, got %v", stale, user.LastSeenAt)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                       DefaultSessionIDValue,
		"  tab-1 ":               "tab-1",
		"a/b":                    DefaultSessionIDValue,
		"tab:1.2_x":              "tab:1.2_x",
		strings.Repeat("a", 200): DefaultSessionIDValue,
	}
	for in, want := range tests {
		if got := SanitizeSessionID(in); got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), "anon_0123456789abcdef0123456789abcdef", "cli")
	if UserIDFromContext(ctx) == "" || SessionIDFromContext(ctx) != "cli" {
		t.Fatal("identity not carried in context")
	}
	if UsernameFromContext(ctx) != "anon-89abcdef" {
		t.Fatalf("unexpected username %q", UsernameFromContext(ctx))
	}
	if SessionIDFromContext(context.Background()) != DefaultSessionIDValue {
		t.Fatal("expected default session id for bare context")
	}
}
