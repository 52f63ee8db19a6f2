// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/repository"
)

// DemoMetrics は新規ユーザーに登録するデモ用メトリクス。
var DemoMetrics = []model.Metric{
	{Key: "active_sessions", Value: "3"},
	{Key: "monthly_signups", Value: "27"},
	{Key: "errors", Value: "1"},
}

// CreatedObserver は新規ユーザー作成を通知される。メトリクス計測に使う。
type CreatedObserver interface {
	UserCreated(provider string)
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	metricRepo repository.MetricRepository
	observer   CreatedObserver
}

// NewService はServiceの新しいインスタンスを生成する。observerはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	metricRepo repository.MetricRepository,
	observer CreatedObserver,
) *Service {
	return &Service{
		userRepo:   userRepo,
		metricRepo: metricRepo,
		observer:   observer,
	}
}

// FindOrCreate は(provider, provider_id)でユーザーを検索し、存在しなければ作成する。
// 既存ユーザーのプロフィールは更新しない。
//
// メールアドレスが別プロバイダーのユーザーで登録済みの場合はEMAIL_CONFLICTを返す。
// 作成時に一意制約違反となった場合は同時ログインによる競合とみなして再検索する。
// 再検索でも見つからない場合は、メールアドレスが並行して登録されたものとみなす。
func (s *Service) FindOrCreate(ctx context.Context, profile *model.Profile) (*model.User, error) {
	user, err := s.userRepo.FindByProvider(ctx, profile.Provider, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user != nil {
		return user, nil
	}

	if profile.Email != "" {
		owner, err := s.userRepo.FindByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if owner != nil {
			slog.Warn("email already registered with another provider",
				slog.String("provider", profile.Provider),
				slog.String("registered_provider", owner.Provider),
			)
			return nil, model.NewEmailConflictError()
		}
	}

	user = &model.User{
		Email:      profile.Email,
		Name:       profile.Name,
		Provider:   profile.Provider,
		ProviderID: profile.ProviderID,
	}
	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, model.ErrDuplicate) {
		existing, findErr := s.userRepo.FindByProvider(ctx, profile.Provider, profile.ProviderID)
		if findErr != nil {
			return nil, fmt.Errorf("ユーザーの再取得に失敗しました: %w", findErr)
		}
		if existing != nil {
			return existing, nil
		}
		slog.Warn("email already registered with another provider",
			slog.String("provider", profile.Provider),
		)
		return nil, model.NewEmailConflictError()
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("new user created",
		slog.Int64("user_id", user.ID),
		slog.String("provider", user.Provider),
	)
	if s.observer != nil {
		s.observer.UserCreated(user.Provider)
	}

	return user, nil
}

// SeedMetrics はユーザーにメトリクスが1件もない場合のみDemoMetricsを登録する。
func (s *Service) SeedMetrics(ctx context.Context, userID int64) error {
	seeded, err := s.metricRepo.SeedIfEmpty(ctx, userID, DemoMetrics)
	if err != nil {
		return fmt.Errorf("メトリクスの登録に失敗しました: %w", err)
	}
	if seeded {
		slog.Debug("demo metrics seeded", slog.Int64("user_id", userID))
	}
	return nil
}

// Get はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Metrics はユーザーのメトリクスを登録順で返す。
func (s *Service) Metrics(ctx context.Context, userID int64) ([]*model.Metric, error) {
	metrics, err := s.metricRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("メトリクスの取得に失敗しました: %w", err)
	}
	return metrics, nil
}

// Withdraw はユーザーの退会処理を実行する。
// メトリクスはCASCADE削除される。セッションCookieの破棄は呼び出し側で行う。
func (s *Service) Withdraw(ctx context.Context, userID int64) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.Int64("user_id", userID),
		slog.String("provider", user.Provider),
	)
	return nil
}
