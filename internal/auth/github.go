package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/hitoshi/oauthboard/internal/model"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// GitHubConfig はGitHubプロバイダーの設定。
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能な値
	Endpoint   oauth2.Endpoint
	APIBaseURL string
	HTTPClient *http.Client
}

// GitHubProvider はGitHub OAuth Appによる認証を提供する。
type GitHubProvider struct {
	oauthClient
	apiBaseURL string
}

// NewGitHubProvider はGitHubProviderを生成する。
func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = github.Endpoint
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultGitHubAPIBaseURL
	}

	return &GitHubProvider{
		oauthClient: oauthClient{
			name: "github",
			config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Endpoint:     cfg.Endpoint,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       []string{"user:email"},
			},
			httpClient: cfg.HTTPClient,
		},
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
	}
}

// githubUser は GET /user のレスポンスのうち使用するフィールド。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile は GET /user でプロフィールを取得する。
// 公開メールアドレスが未設定の場合は GET /user/emails から
// primaryかつverifiedのアドレスを採用する。
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error) {
	client := p.Client(ctx, token)

	var user githubUser
	if err := getJSON(ctx, client, p.apiBaseURL+"/user", &user); err != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github user response has no id")
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := getJSON(ctx, client, p.apiBaseURL+"/user/emails", &emails); err != nil {
			return nil, fmt.Errorf("failed to fetch github emails: %w", err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}

	return &model.Profile{
		Provider:   p.name,
		ProviderID: strconv.FormatInt(user.ID, 10),
		Email:      email,
		Name:       name,
		AvatarURL:  user.AvatarURL,
	}, nil
}

// compile-time interface check
var _ Provider = (*GitHubProvider)(nil)
