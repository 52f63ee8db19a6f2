// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/oauthboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByProvider はproviderとprovider_idでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	// (provider, provider_id) またはemailが重複する場合はmodel.ErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するmetricsはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// MetricRepository はユーザーごとのメトリクスの永続化インターフェース。
type MetricRepository interface {
	// ListByUserID はユーザーのメトリクスをID昇順で返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Metric, error)

	// SeedIfEmpty はユーザーのメトリクスが1件もない場合のみseedを一括登録する。
	// 登録した場合はtrueを返す。
	SeedIfEmpty(ctx context.Context, userID int64, seed []model.Metric) (bool, error)
}
