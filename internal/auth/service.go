package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/model"
)

var (
	// ErrProviderNotConfigured は未登録のプロバイダー名が指定された場合のエラー。
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrProviderFailure はトークン交換やプロフィール取得など、IdPとの通信に失敗した場合のエラー。
	ErrProviderFailure = errors.New("identity provider request failed")
)

// UserService はログイン完了時に必要なユーザー操作。
// user.Serviceの部分集合として定義する。
type UserService interface {
	FindOrCreate(ctx context.Context, profile *model.Profile) (*model.User, error)
	SeedMetrics(ctx context.Context, userID int64) error
}

// Sanitizer はIdPが返す表示用文字列からマークアップを除去する。
type Sanitizer interface {
	Text(raw string) string
}

// Authorization はログイン開始時に生成する値。
// StateとVerifierはコールバックまでフローCookieに保持する。
type Authorization struct {
	URL      string
	State    string
	Verifier string
}

// LoginResult はログイン完了時の結果。
type LoginResult struct {
	User    *model.User
	Profile *model.Profile
	Token   *oauth2.Token
}

// Service は認可コードフローのオーケストレーションを提供する。
type Service struct {
	registry  *Registry
	users     UserService
	sanitizer Sanitizer
}

// NewService はServiceを生成する。
func NewService(registry *Registry, users UserService, sanitizer Sanitizer) *Service {
	return &Service{
		registry:  registry,
		users:     users,
		sanitizer: sanitizer,
	}
}

// Providers は設定済みプロバイダー名を返す。
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// Provider は指定名のProviderを返す。
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// BeginLogin はstateとPKCE verifierを生成し、認可URLを返す。
func (s *Service) BeginLogin(ctx context.Context, providerName string) (*Authorization, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	authURL, err := provider.AuthCodeURL(ctx, state, verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	return &Authorization{URL: authURL, State: state, Verifier: verifier}, nil
}

// CompleteLogin は認可コードを交換してプロフィールを取得し、ユーザーを特定または作成する。
// 初回ログインのユーザーにはデモ用メトリクスを登録する。
func (s *Service) CompleteLogin(ctx context.Context, providerName, code, verifier string) (*LoginResult, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	// 1. 認可コードをトークンに交換
	token, err := provider.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	// 2. プロフィールを取得して正規化
	profile, err := provider.FetchProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	profile = s.normalize(providerName, profile)
	if profile.ProviderID == "" {
		return nil, fmt.Errorf("%w: empty provider_id from %s", ErrProviderFailure, providerName)
	}

	// 3. ユーザーを特定または作成
	user, err := s.users.FindOrCreate(ctx, profile)
	if err != nil {
		return nil, err
	}

	// 4. デモ用メトリクスを登録（既にあれば何もしない）
	if err := s.users.SeedMetrics(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to seed metrics: %w", err)
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("provider", providerName),
	)

	return &LoginResult{User: user, Profile: profile, Token: token}, nil
}

// normalize はプロフィールの表示用文字列からマークアップを除去する。
func (s *Service) normalize(providerName string, p *model.Profile) *model.Profile {
	return &model.Profile{
		Provider:   providerName,
		ProviderID: s.sanitizer.Text(p.ProviderID),
		Email:      s.sanitizer.Text(p.Email),
		Name:       s.sanitizer.Text(p.Name),
		AvatarURL:  p.AvatarURL,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
