package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/auth"
	"github.com/hitoshi/oauthboard/internal/dashboard"
	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/security"
	"github.com/hitoshi/oauthboard/internal/session"
)

type pageFixture struct {
	auth       *mockAuthService
	users      *mockUserService
	dashboards *mockDashboardLoader
	avatars    *mockAvatarFetcher
	sessions   *mockSessionStore
}

func newPageFixture() *pageFixture {
	return &pageFixture{
		auth: &mockAuthService{providers: []string{"github", "google"}},
		users: &mockUserService{
			getFn: func(ctx context.Context, userID int64) (*model.User, error) {
				return &model.User{ID: userID, Name: "Alice", Email: "alice@example.com", Provider: "github"}, nil
			},
			metricsFn: func(ctx context.Context, userID int64) ([]*model.Metric, error) {
				return []*model.Metric{
					{ID: 1, UserID: userID, Key: "active_sessions", Value: "3"},
					{ID: 2, UserID: userID, Key: "monthly_signups", Value: "27"},
				}, nil
			},
		},
		dashboards: &mockDashboardLoader{sources: map[string]bool{}},
		avatars:    &mockAvatarFetcher{},
		sessions:   &mockSessionStore{},
	}
}

func (f *pageFixture) handler() *PageHandler {
	return NewPageHandler(f.auth, f.users, f.dashboards, f.avatars, f.sessions, MustNewRenderer())
}

func loggedIn(r *http.Request, user *model.SessionUser) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), user))
}

func TestPageHandler_Home(t *testing.T) {
	t.Run("anonymous lists providers", func(t *testing.T) {
		f := newPageFixture()
		w := httptest.NewRecorder()
		f.handler().Home(w, newTestRequest(http.MethodGet, "/"))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := w.Body.String()
		for _, link := range []string{`href="/login/github"`, `href="/login/google"`} {
			if !strings.Contains(body, link) {
				t.Errorf("body should contain %s", link)
			}
		}
	})

	t.Run("logged in links dashboard", func(t *testing.T) {
		f := newPageFixture()
		w := httptest.NewRecorder()
		f.handler().Home(w, loggedIn(newTestRequest(http.MethodGet, "/"), &model.SessionUser{ID: 1, Name: "Alice"}))

		if !strings.Contains(w.Body.String(), `href="/dashboard"`) {
			t.Error("body should link to the dashboard")
		}
	})
}

func TestPageHandler_Dashboard_RendersMetricsAndSections(t *testing.T) {
	f := newPageFixture()
	f.sessions.token = &session.Token{AccessToken: "at"}
	f.dashboards.sources["github"] = true
	f.auth.providerFn = func(name string) (auth.Provider, error) {
		return &mockProvider{name: name}, nil
	}
	f.dashboards.loadFn = func(ctx context.Context, provider string, client *http.Client) *dashboard.Dashboard {
		if client == nil {
			t.Error("expected an authorized client")
		}
		return &dashboard.Dashboard{
			GitHub:  &dashboard.GitHubSummary{Login: "alice", PublicRepos: 12, Followers: 5},
			Notices: []dashboard.Notice{{Source: "drive", Message: "タイムアウトしました。"}},
		}
	}

	w := httptest.NewRecorder()
	f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 1}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{"active_sessions", "monthly_signups", "GitHub (alice)", "タイムアウトしました。"} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %q", want)
		}
	}
	if f.sessions.savedToken != nil {
		t.Error("token should not be written back when unchanged")
	}
}

// refreshedTokenSource はリフレッシュ後のトークンを返すTokenSource。
type refreshedTokenSource struct{}

func (refreshedTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "refreshed", RefreshToken: "rt"}, nil
}

func TestPageHandler_Dashboard_WritesBackRefreshedToken(t *testing.T) {
	f := newPageFixture()
	f.sessions.token = &session.Token{AccessToken: "expired", RefreshToken: "rt"}
	f.dashboards.sources["github"] = true
	f.auth.providerFn = func(name string) (auth.Provider, error) {
		return &mockProvider{name: name, tokenSource: refreshedTokenSource{}}, nil
	}

	w := httptest.NewRecorder()
	f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 1}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if f.sessions.savedToken == nil || f.sessions.savedToken.AccessToken != "refreshed" {
		t.Errorf("saved token = %+v, want refreshed", f.sessions.savedToken)
	}
}

func TestPageHandler_Dashboard_NoSourcesSkipsProviderCalls(t *testing.T) {
	f := newPageFixture()
	f.sessions.token = &session.Token{AccessToken: "at"}

	w := httptest.NewRecorder()
	f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 1}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if f.dashboards.loaded != 0 {
		t.Errorf("Load called %d times, want 0", f.dashboards.loaded)
	}
}

func TestPageHandler_Dashboard_UserVanished_ClearsSession(t *testing.T) {
	f := newPageFixture()
	f.users.getFn = func(ctx context.Context, userID int64) (*model.User, error) {
		return nil, model.NewUserNotFoundError()
	}

	w := httptest.NewRecorder()
	f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 99}))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if !f.sessions.cleared {
		t.Error("session should be cleared")
	}
}

func TestPageHandler_Dashboard_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *pageFixture)
	}{
		{"get user fails", func(f *pageFixture) {
			f.users.getFn = func(ctx context.Context, userID int64) (*model.User, error) {
				return nil, errors.New("connection refused")
			}
		}},
		{"metrics fail", func(f *pageFixture) {
			f.users.metricsFn = func(ctx context.Context, userID int64) ([]*model.Metric, error) {
				return nil, errors.New("connection refused")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPageFixture()
			tt.setup(f)

			w := httptest.NewRecorder()
			f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 1}))

			if w.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
			}
			if f.sessions.cleared {
				t.Error("session should be kept on transient errors")
			}
		})
	}
}

func TestPageHandler_Avatar(t *testing.T) {
	const avatarURL = "https://avatars.githubusercontent.com/u/1"

	tests := []struct {
		name       string
		avatarURL  string
		fetchErr   error
		wantStatus int
	}{
		{"no avatar", "", nil, http.StatusNotFound},
		{"rejected", avatarURL, fmt.Errorf("%w: content type text/html", security.ErrAvatarRejected), http.StatusNotFound},
		{"upstream failure", avatarURL, errors.New("connection reset"), http.StatusBadGateway},
		{"ok", avatarURL, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPageFixture()
			f.avatars.fetchFn = func(ctx context.Context, rawURL string) (*security.Avatar, error) {
				if rawURL != avatarURL {
					t.Errorf("url = %q, want %q", rawURL, avatarURL)
				}
				if tt.fetchErr != nil {
					return nil, tt.fetchErr
				}
				return &security.Avatar{ContentType: "image/png", Body: []byte("\x89PNG")}, nil
			}

			w := httptest.NewRecorder()
			req := loggedIn(newTestRequest(http.MethodGet, "/avatar"), &model.SessionUser{ID: 1, AvatarURL: tt.avatarURL})
			f.handler().Avatar(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if ct := w.Header().Get("Content-Type"); ct != "image/png" {
					t.Errorf("Content-Type = %q, want image/png", ct)
				}
				if w.Body.String() != "\x89PNG" {
					t.Errorf("body = %q", w.Body.String())
				}
			}
		})
	}
}

func TestAccountHandler_Delete(t *testing.T) {
	tests := []struct {
		name        string
		withdrawErr error
		wantStatus  int
		wantCleared bool
	}{
		{"deleted", nil, http.StatusSeeOther, true},
		{"already gone", model.NewUserNotFoundError(), http.StatusSeeOther, true},
		{"storage failure", errors.New("database is locked"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deletedID int64
			users := &mockUserService{
				withdrawFn: func(ctx context.Context, userID int64) error {
					deletedID = userID
					return tt.withdrawErr
				},
			}
			sessions := &mockSessionStore{user: &model.SessionUser{ID: 5}}
			h := NewAccountHandler(users, sessions, MustNewRenderer())

			w := httptest.NewRecorder()
			h.Delete(w, loggedIn(newTestRequest(http.MethodPost, "/account/delete"), &model.SessionUser{ID: 5}))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if deletedID != 5 {
				t.Errorf("deleted user ID = %d, want 5", deletedID)
			}
			if sessions.cleared != tt.wantCleared {
				t.Errorf("cleared = %v, want %v", sessions.cleared, tt.wantCleared)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, `{"status":"ok"}`},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, `{"status":"unavailable"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(&mockPinger{err: tt.pingErr})(w, newTestRequest(http.MethodGet, "/health"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestRenderer_EscapesUserContent(t *testing.T) {
	f := newPageFixture()
	f.users.getFn = func(ctx context.Context, userID int64) (*model.User, error) {
		return &model.User{ID: userID, Name: "<script>alert(1)</script>", Provider: "github"}, nil
	}

	w := httptest.NewRecorder()
	f.handler().Dashboard(w, loggedIn(newTestRequest(http.MethodGet, "/dashboard"), &model.SessionUser{ID: 1}))

	if strings.Contains(w.Body.String(), "<script>alert(1)</script>") {
		t.Error("user content should be HTML-escaped")
	}
}
