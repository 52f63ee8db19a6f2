// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://app.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// OAuth: Google
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	// GoogleAPIScopes が有効な場合、Drive/Calendar/Gmailの読み取りスコープも要求する
	GoogleAPIScopes bool `env:"GOOGLE_API_SCOPES" envDefault:"true"`

	// OAuth: GitHub
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`

	// OAuth: 任意のOpenID Connectプロバイダー
	OIDCProviderName string   `env:"OIDC_PROVIDER_NAME" envDefault:"oidc"`
	OIDCIssuerURL    string   `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string   `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `env:"OIDC_CLIENT_SECRET"`
	OIDCScopes       []string `env:"OIDC_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`

	// Session
	SecretKey     string `env:"SECRET_KEY,required,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"1209600"` // 14日

	// Provider API
	ProviderAPITimeout time.Duration `env:"PROVIDER_API_TIMEOUT" envDefault:"10s"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"20"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8000"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8000"`

	// Cookie
	CookieSecure bool   `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// providerNamePattern はURLパスに埋め込むプロバイダー名の形式。
var providerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv は.envを読まずに環境変数のみからConfigを読み込む。
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive: %d", cfg.SessionMaxAge)
	}

	if cfg.OIDCEnabled() {
		if !providerNamePattern.MatchString(cfg.OIDCProviderName) {
			return nil, fmt.Errorf("invalid OIDC_PROVIDER_NAME: %q", cfg.OIDCProviderName)
		}
		if cfg.OIDCProviderName == "google" || cfg.OIDCProviderName == "github" {
			return nil, fmt.Errorf("OIDC_PROVIDER_NAME must not shadow a built-in provider: %q", cfg.OIDCProviderName)
		}
	}

	return cfg, nil
}

// CallbackURL は指定プロバイダーのOAuthコールバックURLを返す。
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
}

// GoogleEnabled はGoogleのクライアント情報が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled はGitHubのクライアント情報が揃っているかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// OIDCEnabled は汎用OIDCプロバイダーの設定が揃っているかを返す。
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != "" && c.OIDCClientID != "" && c.OIDCClientSecret != ""
}
