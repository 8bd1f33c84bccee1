package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sidekick/internal/calendar"
	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/identity"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newCalendar(t *testing.T, google http.HandlerFunc) (*calendar.Client, string) {
	t.Helper()
	srv := httptest.NewServer(google)
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	if err := calendar.SaveToken(tokenPath,
		&oauth2.Config{ClientID: "c", ClientSecret: "s", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}},
		&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)},
	); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	return calendar.New(calendar.Config{
		TokenPath:       tokenPath,
		DefaultTimezone: "UTC",
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	}), tokenPath
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateEventEndpoint(t *testing.T) {
	t.Parallel()

	var inserted map[string]any
	cal, _ := newCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&inserted)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"e1","htmlLink":"https://calendar.test/e1"}`)
	})
	srv := newRouter(NewHandler(newRepo(t), cal, nil))

	rec := do(t, srv, http.MethodPost, "/api/calendar/events",
		`{"summary":"Dentist","start":"2026-10-20T09:00:00","end":"2026-10-20T10:00:00","timezone":"Europe/London"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec)["output"]; out != "Event created: https://calendar.test/e1" {
		t.Fatalf("unexpected output %v", out)
	}
	if start := inserted["start"].(map[string]any); start["timeZone"] != "Europe/London" {
		t.Fatalf("timezone not forwarded: %v", start)
	}
}

func TestCreateEventValidation(t *testing.T) {
	t.Parallel()
	cal, _ := newCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("calendar must not be called for invalid forms")
	})
	srv := newRouter(NewHandler(newRepo(t), cal, nil))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing title", `{"start":"2026-10-20T09:00:00","end":"2026-10-20T10:00:00"}`, calendar.MsgTitleRequired},
		{"missing times", `{"summary":"x"}`, calendar.MsgDateTimesRequired},
		{"end before start", `{"summary":"x","start":"2026-10-20T10:00:00","end":"2026-10-20T09:00:00"}`, calendar.MsgEndBeforeStartForm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, srv, http.MethodPost, "/api/calendar/events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decodeMap(t, rec)["error"]; got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	if rec := do(t, srv, http.MethodPost, "/api/calendar/events", `{"summary":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestCalendarErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	cal, tokenPath := newCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"insufficient scope"}}`)
	})
	srv := newRouter(NewHandler(newRepo(t), cal, &config.Config{Calendar: config.CalendarConfig{TokenPath: tokenPath}}))

	rec := do(t, srv, http.MethodGet, "/api/calendar/events", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg, _ := decodeMap(t, rec)["error"].(string); !strings.HasPrefix(msg, "Calendar API error: ") {
		t.Fatalf("unexpected error %q", msg)
	}

	missing := calendar.New(calendar.Config{TokenPath: filepath.Join(t.TempDir(), "none.json")})
	rec = do(t, newRouter(NewHandler(newRepo(t), missing, nil)), http.MethodGet, "/api/calendar/events", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing token, got %d", rec.Code)
	}
	if msg, _ := decodeMap(t, rec)["error"].(string); !strings.HasPrefix(msg, "Calendar API exception: calendar token not found") {
		t.Fatalf("unexpected error %q", msg)
	}

	if rec := do(t, srv, http.MethodGet, "/api/calendar/events?max_results=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad max_results, got %d", rec.Code)
	}
}

func TestListEventsEndpoint(t *testing.T) {
	t.Parallel()

	cal, _ := newCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("maxResults"); got != "3" {
			t.Errorf("expected maxResults=3, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":"1","summary":"Standup","start":{"dateTime":"2026-10-19T09:00:00Z"}}]}`)
	})
	srv := newRouter(NewHandler(newRepo(t), cal, nil))

	rec := do(t, srv, http.MethodGet, "/api/calendar/events?max_results=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec)["output"]; out != "2026-10-19T09:00:00Z — Standup" {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestCalendarNotConfigured(t *testing.T) {
	t.Parallel()
	srv := newRouter(NewHandler(newRepo(t), nil, nil))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		if rec := do(t, srv, method, "/api/calendar/events", `{}`); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", method, rec.Code)
		}
	}
}

func TestPrepareAndTimezones(t *testing.T) {
	t.Parallel()
	srv := newRouter(NewHandler(newRepo(t), nil, &config.Config{Calendar: config.CalendarConfig{DefaultTimezone: "Asia/Kolkata"}}))

	rec := do(t, srv, http.MethodPost, "/api/calendar/prepare",
		`{"start_date":"2026-10-20","start_time":"09:00","end_date":"2026-10-20","end_time":"08:00"}`)
	got := decodeMap(t, rec)
	if got["start"] != "2026-10-20T09:00:00" || got["message"] != calendar.MsgEndBeforeStart {
		t.Fatalf("unexpected prepare response %v", got)
	}

	rec = do(t, srv, http.MethodGet, "/api/calendar/timezones", "")
	got = decodeMap(t, rec)
	if got["default"] != "Asia/Kolkata" {
		t.Fatalf("unexpected default timezone %v", got["default"])
	}
	if zones, _ := got["timezones"].([]any); len(zones) < 5 {
		t.Fatalf("expected curated timezones, got %v", got["timezones"])
	}
}

func TestConfigHealthAndMe(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	cfg := &config.Config{
		SessionTTL: time.Hour,
		LLM:        config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3.2"},
		Notify:     config.NotifyConfig{Topic: "sidekick"},
	}
	h := NewHandler(repo, nil, cfg)
	srv := identity.Middleware(repo, true)(newRouter(h))

	got := decodeMap(t, do(t, srv, http.MethodGet, "/api/config", ""))
	if got["model"] != "llama3.2" || got["notify_enabled"] != true || got["calendar_enabled"] != false {
		t.Fatalf("unexpected config %v", got)
	}

	rec := do(t, srv, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || decodeMap(t, rec)["status"] != "healthy" {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}

	me := decodeMap(t, do(t, srv, http.MethodGet, "/api/me", ""))
	if id, _ := me["user_id"].(string); !identity.IsValidAnonID(id) || me["session_ttl"] != float64(3600) {
		t.Fatalf("unexpected me response %v", me)
	}

	_ = repo.Close()
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil).WithContext(context.Background()))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
}
