package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/oauthboard/internal/model"
)

const (
	googleIssuer      = "https://accounts.google.com"
	googleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// googleAPIScopes はダッシュボードでDrive/Calendar/Gmailを読むためのスコープ。
var googleAPIScopes = []string{
	"https://www.googleapis.com/auth/drive.metadata.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/gmail.metadata",
}

// GoogleConfig はGoogleプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// APIScopes が有効な場合、Drive/Calendar/Gmailの読み取りスコープも要求する
	APIScopes bool

	// テスト用にオーバーライド可能な値
	Endpoint    oauth2.Endpoint
	KeySet      oidc.KeySet
	Issuer      string
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleProvider はGoogle OpenID Connectによる認証を提供する。
// プロフィールは検証済みID Tokenのクレームから取り出す。
type GoogleProvider struct {
	oauthClient
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.Issuer == "" {
		cfg.Issuer = googleIssuer
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}

	keySet := cfg.KeySet
	if keySet == nil {
		ctx := context.Background()
		if cfg.HTTPClient != nil {
			ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
		}
		keySet = oidc.NewRemoteKeySet(ctx, googleJWKSURL)
	}

	scopes := []string{oidc.ScopeOpenID, "email", "profile"}
	authOpts := []oauth2.AuthCodeOption{}
	if cfg.APIScopes {
		scopes = append(scopes, googleAPIScopes...)
		// リフレッシュトークンを受け取り、ダッシュボード表示時に期限切れトークンを更新する
		authOpts = append(authOpts, oauth2.AccessTypeOffline)
	}

	return &GoogleProvider{
		oauthClient: oauthClient{
			name: "google",
			config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Endpoint:     cfg.Endpoint,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       scopes,
			},
			httpClient: cfg.HTTPClient,
			authOpts:   authOpts,
		},
		verifier:    oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}),
		userInfoURL: cfg.UserInfoURL,
	}
}

// googleClaims はID Tokenおよびuserinfoのクレーム。
type googleClaims struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchProfile はID Tokenを検証してプロフィールを返す。
// トークンレスポンスにid_tokenが含まれない場合はuserinfoエンドポイントを使う。
func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error) {
	var claims googleClaims

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := p.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to verify google id_token: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse google id_token claims: %w", err)
		}
	} else {
		if err := getJSON(ctx, p.Client(ctx, token), p.userInfoURL, &claims); err != nil {
			return nil, fmt.Errorf("failed to fetch google userinfo: %w", err)
		}
	}

	return &model.Profile{
		Provider:   p.name,
		ProviderID: claims.Sub,
		Email:      claims.Email,
		Name:       claims.Name,
		AvatarURL:  claims.Picture,
	}, nil
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
