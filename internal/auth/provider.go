// Package auth はOAuth2/OpenID Connectによるログインフローを提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/model"
)

// Provider はOAuth認証プロバイダー（IdP）の抽象化。
// IdPごとのエンドポイントやプロフィール形式の差異はこの実装に閉じ込める。
type Provider interface {
	// Name はURLパスとusers.providerに使うプロバイダー名を返す。
	Name() string
	// AuthCodeURL はstateとPKCE verifierを含む認可URLを生成する。
	AuthCodeURL(ctx context.Context, state, verifier string) (string, error)
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	// FetchProfile はトークンを使ってプロフィールを取得する。
	FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error)
	// TokenSource は期限切れ時に自動リフレッシュするTokenSourceを返す。
	TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource
	// Client はTokenSourceで認可されるHTTPクライアントを返す。
	Client(ctx context.Context, token *oauth2.Token) *http.Client
}

// Registry はプロバイダー名からProviderを引く。起動時に構築し以後変更しない。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はRegistryを生成する。nilのProviderは無視する。
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup は指定名のProviderを返す。
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names は登録済みプロバイダー名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// oauthClient はoauth2.Configを持つProviderの共通部分。
type oauthClient struct {
	name   string
	config *oauth2.Config
	// httpClient はトークンエンドポイントやAPI呼び出しに使う下位クライアント（nilでデフォルト）
	httpClient *http.Client
	authOpts   []oauth2.AuthCodeOption
}

func (c *oauthClient) Name() string { return c.name }

// withHTTPClient はoauth2パッケージが使うHTTPクライアントをコンテキストに載せる。
func (c *oauthClient) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *oauthClient) AuthCodeURL(_ context.Context, state, verifier string) (string, error) {
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, c.authOpts...)
	return c.config.AuthCodeURL(state, opts...), nil
}

func (c *oauthClient) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange %s code: %w", c.name, err)
	}
	return token, nil
}

func (c *oauthClient) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	return c.config.TokenSource(c.withHTTPClient(ctx), token)
}

func (c *oauthClient) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(c.withHTTPClient(ctx), c.TokenSource(ctx, token))
}

// maxAPIResponseSize はIdPのJSONレスポンスとして読み込む最大バイト数。
const maxAPIResponseSize = 1 << 20

// getJSON は認可済みクライアントでGETし、JSONをvにデコードする。
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}
