package handler

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/auth"
	"github.com/hitoshi/oauthboard/internal/dashboard"
	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/security"
	"github.com/hitoshi/oauthboard/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	providers       []string
	providerFn      func(name string) (auth.Provider, error)
	beginLoginFn    func(ctx context.Context, providerName string) (*auth.Authorization, error)
	completeLoginFn func(ctx context.Context, providerName, code, verifier string) (*auth.LoginResult, error)
}

func (m *mockAuthService) Providers() []string { return m.providers }

func (m *mockAuthService) Provider(name string) (auth.Provider, error) {
	if m.providerFn != nil {
		return m.providerFn(name)
	}
	return nil, auth.ErrProviderNotConfigured
}

func (m *mockAuthService) BeginLogin(ctx context.Context, providerName string) (*auth.Authorization, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, providerName)
	}
	return nil, auth.ErrProviderNotConfigured
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, providerName, code, verifier string) (*auth.LoginResult, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, providerName, code, verifier)
	}
	return nil, nil
}

// mockSessionStore はCookieを使わずにセッションの状態を保持する。
type mockSessionStore struct {
	user       *model.SessionUser
	token      *session.Token
	flow       *session.Flow
	savedFlow  *session.Flow
	savedToken *session.Token
	cleared    bool

	saveLoginErr error
}

func (m *mockSessionStore) User(r *http.Request) (*model.SessionUser, *session.Token) {
	return m.user, m.token
}

func (m *mockSessionStore) SaveLogin(w http.ResponseWriter, r *http.Request, user *model.SessionUser, token *session.Token) error {
	if m.saveLoginErr != nil {
		return m.saveLoginErr
	}
	m.user, m.token = user, token
	return nil
}

func (m *mockSessionStore) SaveToken(w http.ResponseWriter, r *http.Request, token *session.Token) error {
	m.savedToken = token
	m.token = token
	return nil
}

func (m *mockSessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	m.cleared = true
	m.user, m.token = nil, nil
	return nil
}

func (m *mockSessionStore) SaveFlow(w http.ResponseWriter, r *http.Request, flow session.Flow) error {
	m.savedFlow = &flow
	return nil
}

func (m *mockSessionStore) PopFlow(w http.ResponseWriter, r *http.Request) (*session.Flow, error) {
	flow := m.flow
	m.flow = nil
	return flow, nil
}

type mockUserService struct {
	getFn      func(ctx context.Context, userID int64) (*model.User, error)
	metricsFn  func(ctx context.Context, userID int64) ([]*model.Metric, error)
	withdrawFn func(ctx context.Context, userID int64) error
}

func (m *mockUserService) Get(ctx context.Context, userID int64) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockUserService) Metrics(ctx context.Context, userID int64) ([]*model.Metric, error) {
	if m.metricsFn != nil {
		return m.metricsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID int64) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockDashboardLoader struct {
	sources map[string]bool
	loadFn  func(ctx context.Context, provider string, client *http.Client) *dashboard.Dashboard
	loaded  int
}

func (m *mockDashboardLoader) HasSources(provider string) bool { return m.sources[provider] }

func (m *mockDashboardLoader) Load(ctx context.Context, provider string, client *http.Client) *dashboard.Dashboard {
	m.loaded++
	if m.loadFn != nil {
		return m.loadFn(ctx, provider, client)
	}
	return &dashboard.Dashboard{}
}

type mockAvatarFetcher struct {
	fetchFn func(ctx context.Context, rawURL string) (*security.Avatar, error)
}

func (m *mockAvatarFetcher) Fetch(ctx context.Context, rawURL string) (*security.Avatar, error) {
	return m.fetchFn(ctx, rawURL)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

type mockRecorder struct {
	logins   []string
	statuses []int
}

func (m *mockRecorder) RecordLogin(provider, outcome string) {
	m.logins = append(m.logins, provider+":"+outcome)
}

func (m *mockRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

// mockProvider はauth.Providerのモック。
type mockProvider struct {
	name        string
	tokenSource oauth2.TokenSource
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	return "https://idp.example.com/authorize?state=" + state, nil
}

func (m *mockProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error) {
	return &model.Profile{ProviderID: "1", Name: "Alice"}, nil
}

func (m *mockProvider) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	if m.tokenSource != nil {
		return m.tokenSource
	}
	return oauth2.StaticTokenSource(token)
}

func (m *mockProvider) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(ctx, m.TokenSource(ctx, token))
}

// withURLParam はchiのURLパラメータを設定したリクエストを返す。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newTestRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}
