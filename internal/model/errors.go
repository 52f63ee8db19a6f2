// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeMissingCode           = "MISSING_CODE"
	ErrCodeProviderDenied        = "PROVIDER_DENIED"
	ErrCodeAuthFailed            = "AUTH_FAILED"
	ErrCodeEmailConflict         = "EMAIL_CONFLICT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeCSRF                  = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewProviderNotConfiguredError は未設定のIdPが指定された場合のエラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("ログインプロバイダーが設定されていません: %s", provider),
		Category: "auth",
		Action:   "トップページから利用可能なプロバイダーを選択してください。",
	}
}

// NewInvalidStateError はOAuthのstate検証に失敗した場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "ログイン要求の検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewMissingCodeError は認可コードが含まれない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードがありません。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewProviderDeniedError はIdPが認可を拒否した場合のエラーを生成する。
func NewProviderDeniedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderDenied,
		Message:  fmt.Sprintf("プロバイダーが認可を拒否しました: %s", reason),
		Category: "provider",
		Action:   "アクセスを許可してから再度ログインしてください。",
	}
}

// NewAuthFailedError はトークン交換やプロフィール取得に失敗した場合のエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "認証に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewEmailConflictError は同じメールアドレスが別のIdPで登録済みの場合のエラーを生成する。
func NewEmailConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailConflict,
		Message:  "このメールアドレスは別のプロバイダーで登録済みです。",
		Category: "auth",
		Action:   "最初に登録したプロバイダーでログインしてください。",
	}
}

// NewUnauthorizedError は未ログイン状態のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "リクエストの検証に失敗しました。",
		Category: "validation",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
