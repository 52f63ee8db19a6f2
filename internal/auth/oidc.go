package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/model"
)

// OIDCConfig は任意のOpenID Connectプロバイダーの設定。
type OIDCConfig struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	HTTPClient *http.Client
}

// OIDCProvider はDiscoveryでエンドポイントを解決する汎用OIDCプロバイダー。
// Discoveryは初回利用時に行い、成功した結果をキャッシュする。
// 失敗した場合は次回の利用時に再試行する。
type OIDCProvider struct {
	cfg OIDCConfig

	mu       sync.Mutex
	provider *oidc.Provider
	client   *oauthClient
}

// NewOIDCProvider はOIDCProviderを生成する。ネットワークアクセスは行わない。
func NewOIDCProvider(cfg OIDCConfig) *OIDCProvider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &OIDCProvider{cfg: cfg}
}

// Name はプロバイダー名を返す。
func (p *OIDCProvider) Name() string { return p.cfg.Name }

// discover はDiscoveryを実行し、oauthClientを返す。
func (p *OIDCProvider) discover(ctx context.Context) (*oidc.Provider, *oauthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider != nil {
		return p.provider, p.client, nil
	}

	// Providerはこのコンテキストを鍵の取得にも使い続けるため、リクエストのキャンセルから切り離す
	discoveryCtx := context.WithoutCancel(ctx)
	if p.cfg.HTTPClient != nil {
		discoveryCtx = oidc.ClientContext(discoveryCtx, p.cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(discoveryCtx, strings.TrimRight(p.cfg.IssuerURL, "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover %s: %w", p.cfg.Name, err)
	}

	p.provider = provider
	p.client = &oauthClient{
		name: p.cfg.Name,
		config: &oauth2.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  p.cfg.RedirectURL,
			Scopes:       p.cfg.Scopes,
		},
		httpClient: p.cfg.HTTPClient,
	}
	return p.provider, p.client, nil
}

func (p *OIDCProvider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	_, client, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(ctx, state, verifier)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	_, client, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	return client.Exchange(ctx, code, verifier)
}

// TokenSource はDiscovery前に呼ばれた場合、リフレッシュしない静的なTokenSourceを返す。
func (p *OIDCProvider) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	_, client, err := p.discover(ctx)
	if err != nil {
		return oauth2.StaticTokenSource(token)
	}
	return client.TokenSource(ctx, token)
}

func (p *OIDCProvider) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	_, client, err := p.discover(ctx)
	if err != nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return client.Client(ctx, token)
}

// oidcUserInfoClaims はuserinfoのクレームのうち使用するもの。
// idは数値で返すIdPもあるためRawMessageで受ける。
type oidcUserInfoClaims struct {
	ID      json.RawMessage `json:"id"`
	Name    string          `json:"name"`
	Picture string          `json:"picture"`
}

// FetchProfile はuserinfoエンドポイントからプロフィールを取得する。
// provider_idはidクレームがあればそれを、なければsubを使う。
func (p *OIDCProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error) {
	provider, client, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	userInfo, err := provider.UserInfo(client.withHTTPClient(ctx), oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s userinfo: %w", p.cfg.Name, err)
	}

	var claims oidcUserInfoClaims
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse %s userinfo claims: %w", p.cfg.Name, err)
	}

	providerID := rawClaimString(claims.ID)
	if providerID == "" {
		providerID = userInfo.Subject
	}

	return &model.Profile{
		Provider:   p.cfg.Name,
		ProviderID: providerID,
		Email:      userInfo.Email,
		Name:       claims.Name,
		AvatarURL:  claims.Picture,
	}, nil
}

// rawClaimString は文字列または数値のクレームを文字列にする。
func rawClaimString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// compile-time interface check
var _ Provider = (*OIDCProvider)(nil)
