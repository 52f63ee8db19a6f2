package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/security"
)

// --- モック定義 ---

type mockUserService struct {
	findOrCreateFn func(ctx context.Context, profile *model.Profile) (*model.User, error)
	seedMetricsFn  func(ctx context.Context, userID int64) error
}

func (m *mockUserService) FindOrCreate(ctx context.Context, profile *model.Profile) (*model.User, error) {
	if m.findOrCreateFn != nil {
		return m.findOrCreateFn(ctx, profile)
	}
	return &model.User{ID: 1, Provider: profile.Provider, ProviderID: profile.ProviderID}, nil
}

func (m *mockUserService) SeedMetrics(ctx context.Context, userID int64) error {
	if m.seedMetricsFn != nil {
		return m.seedMetricsFn(ctx, userID)
	}
	return nil
}

var _ UserService = (*mockUserService)(nil)

func newTestService(users UserService, providers ...Provider) *Service {
	return NewService(NewRegistry(providers...), users, security.NewTextSanitizer())
}

// --- テスト ---

func TestBeginLogin_ReturnsURLWithStateAndVerifier(t *testing.T) {
	var gotState, gotVerifier string
	provider := &mockProvider{
		name: "github",
		authCodeURLFn: func(_ context.Context, state, verifier string) (string, error) {
			gotState, gotVerifier = state, verifier
			return "https://github.com/login/oauth/authorize?state=" + url.QueryEscape(state), nil
		},
	}
	svc := newTestService(&mockUserService{}, provider)

	authz, err := svc.BeginLogin(context.Background(), "github")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if authz.State == "" || len(authz.State) != 64 {
		t.Errorf("State = %q, want 64 hex chars", authz.State)
	}
	if authz.Verifier == "" {
		t.Error("Verifier should be generated")
	}
	if authz.State != gotState || authz.Verifier != gotVerifier {
		t.Error("provider should receive the generated state and verifier")
	}
	if authz.URL == "" {
		t.Error("URL should be set")
	}
}

func TestBeginLogin_StateIsUnique(t *testing.T) {
	svc := newTestService(&mockUserService{}, &mockProvider{name: "github"})

	a, _ := svc.BeginLogin(context.Background(), "github")
	b, _ := svc.BeginLogin(context.Background(), "github")
	if a.State == b.State {
		t.Error("state should differ between logins")
	}
	if a.Verifier == b.Verifier {
		t.Error("verifier should differ between logins")
	}
}

func TestBeginLogin_UnknownProvider_ReturnsErrProviderNotConfigured(t *testing.T) {
	svc := newTestService(&mockUserService{})

	_, err := svc.BeginLogin(context.Background(), "twitter")
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestBeginLogin_DiscoveryFailure_ReturnsErrProviderFailure(t *testing.T) {
	provider := &mockProvider{
		name: "oidc",
		authCodeURLFn: func(context.Context, string, string) (string, error) {
			return "", errors.New("discovery failed")
		},
	}
	svc := newTestService(&mockUserService{}, provider)

	_, err := svc.BeginLogin(context.Background(), "oidc")
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("expected ErrProviderFailure, got %v", err)
	}
}

func TestCompleteLogin_Success_CreatesUserAndSeedsMetrics(t *testing.T) {
	var gotCode, gotVerifier string
	provider := &mockProvider{
		name: "github",
		exchangeFn: func(_ context.Context, code, verifier string) (*oauth2.Token, error) {
			gotCode, gotVerifier = code, verifier
			return &oauth2.Token{AccessToken: "at"}, nil
		},
		fetchProfileFn: func(context.Context, *oauth2.Token) (*model.Profile, error) {
			return &model.Profile{
				Provider:   "github",
				ProviderID: "12345",
				Email:      "alice@example.com",
				Name:       "<b>Alice</b>",
				AvatarURL:  "https://avatars.githubusercontent.com/u/12345",
			}, nil
		},
	}

	var gotProfile *model.Profile
	var seededUserID int64
	users := &mockUserService{
		findOrCreateFn: func(_ context.Context, profile *model.Profile) (*model.User, error) {
			gotProfile = profile
			return &model.User{ID: 7, Provider: profile.Provider, ProviderID: profile.ProviderID, Name: profile.Name}, nil
		},
		seedMetricsFn: func(_ context.Context, userID int64) error {
			seededUserID = userID
			return nil
		},
	}
	svc := newTestService(users, provider)

	result, err := svc.CompleteLogin(context.Background(), "github", "code-1", "verifier-1")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	if gotCode != "code-1" || gotVerifier != "verifier-1" {
		t.Errorf("Exchange got code=%q verifier=%q", gotCode, gotVerifier)
	}
	if gotProfile.Name != "Alice" {
		t.Errorf("profile name should be sanitized, got %q", gotProfile.Name)
	}
	if gotProfile.AvatarURL != "https://avatars.githubusercontent.com/u/12345" {
		t.Errorf("AvatarURL = %q", gotProfile.AvatarURL)
	}
	if seededUserID != 7 {
		t.Errorf("SeedMetrics userID = %d, want 7", seededUserID)
	}
	if result.User.ID != 7 {
		t.Errorf("User.ID = %d, want 7", result.User.ID)
	}
	if result.Token.AccessToken != "at" {
		t.Errorf("Token.AccessToken = %q", result.Token.AccessToken)
	}
}

func TestCompleteLogin_ProviderNameOverridesProfile(t *testing.T) {
	provider := &mockProvider{
		name: "keycloak",
		fetchProfileFn: func(context.Context, *oauth2.Token) (*model.Profile, error) {
			return &model.Profile{Provider: "", ProviderID: "sub-1"}, nil
		},
	}
	var gotProvider string
	users := &mockUserService{
		findOrCreateFn: func(_ context.Context, profile *model.Profile) (*model.User, error) {
			gotProvider = profile.Provider
			return &model.User{ID: 1}, nil
		},
	}

	if _, err := newTestService(users, provider).CompleteLogin(context.Background(), "keycloak", "c", "v"); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if gotProvider != "keycloak" {
		t.Errorf("provider = %q, want keycloak", gotProvider)
	}
}

func TestCompleteLogin_ExchangeError_ReturnsErrProviderFailure(t *testing.T) {
	provider := &mockProvider{
		name: "google",
		exchangeFn: func(context.Context, string, string) (*oauth2.Token, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	called := false
	users := &mockUserService{
		findOrCreateFn: func(context.Context, *model.Profile) (*model.User, error) {
			called = true
			return nil, nil
		},
	}

	_, err := newTestService(users, provider).CompleteLogin(context.Background(), "google", "c", "v")
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("expected ErrProviderFailure, got %v", err)
	}
	if called {
		t.Error("FindOrCreate should not be called when exchange fails")
	}
}

func TestCompleteLogin_ProfileError_ReturnsErrProviderFailure(t *testing.T) {
	provider := &mockProvider{
		name: "google",
		fetchProfileFn: func(context.Context, *oauth2.Token) (*model.Profile, error) {
			return nil, errors.New("id_token expired")
		},
	}

	_, err := newTestService(&mockUserService{}, provider).CompleteLogin(context.Background(), "google", "c", "v")
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("expected ErrProviderFailure, got %v", err)
	}
}

func TestCompleteLogin_EmptyProviderID_ReturnsErrProviderFailure(t *testing.T) {
	provider := &mockProvider{
		name: "github",
		fetchProfileFn: func(context.Context, *oauth2.Token) (*model.Profile, error) {
			return &model.Profile{ProviderID: "  "}, nil
		},
	}

	_, err := newTestService(&mockUserService{}, provider).CompleteLogin(context.Background(), "github", "c", "v")
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("expected ErrProviderFailure, got %v", err)
	}
}

func TestCompleteLogin_EmailConflict_PassesAPIErrorThrough(t *testing.T) {
	users := &mockUserService{
		findOrCreateFn: func(context.Context, *model.Profile) (*model.User, error) {
			return nil, model.NewEmailConflictError()
		},
	}

	_, err := newTestService(users, &mockProvider{name: "google"}).CompleteLogin(context.Background(), "google", "c", "v")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailConflict {
		t.Errorf("expected EMAIL_CONFLICT APIError, got %v", err)
	}
}

func TestCompleteLogin_SeedError_ReturnsError(t *testing.T) {
	users := &mockUserService{
		seedMetricsFn: func(context.Context, int64) error { return errors.New("db down") },
	}

	if _, err := newTestService(users, &mockProvider{name: "github"}).CompleteLogin(context.Background(), "github", "c", "v"); err == nil {
		t.Error("expected error when seeding fails")
	}
}

func TestCompleteLogin_UnknownProvider_ReturnsErrProviderNotConfigured(t *testing.T) {
	_, err := newTestService(&mockUserService{}).CompleteLogin(context.Background(), "gitlab", "c", "v")
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}
