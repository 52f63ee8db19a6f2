// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"time"
)

// ErrDuplicate は一意制約違反を表す。
// リポジトリ層はドライバ固有のエラーをこの値に変換して返す。
var ErrDuplicate = errors.New("duplicate key")

// User はIdPで認証されたユーザーを表す。
// (Provider, ProviderID) の組で一意に特定される。
// 作成後は更新しない（IdP側のプロフィール変更は再同期しない）。
type User struct {
	ID         int64
	Email      string // 未取得の場合は空文字（DB上はNULL）
	Name       string
	Provider   string // "google", "github" 等
	ProviderID string // IdPが払い出すユーザー識別子
	CreatedAt  time.Time
}

// Metric はユーザーごとのダッシュボード表示用の値。
// 値は型を持たない文字列として保存する。
type Metric struct {
	ID     int64
	UserID int64
	Key    string
	Value  string
}

// Profile はIdPから取得したプロフィールをプロバイダー非依存の形に正規化したもの。
type Profile struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
	AvatarURL  string
}

// SessionUser はセッションCookieに保持するユーザー概要。
type SessionUser struct {
	ID        int64
	Name      string
	Email     string
	Provider  string
	AvatarURL string
}
