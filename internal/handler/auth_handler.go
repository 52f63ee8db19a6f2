// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/oauthboard/internal/auth"
	"github.com/hitoshi/oauthboard/internal/metrics"
	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/session"
)

// AuthService はハンドラーが必要とする認証サービスのインターフェース。
type AuthService interface {
	Providers() []string
	Provider(name string) (auth.Provider, error)
	BeginLogin(ctx context.Context, providerName string) (*auth.Authorization, error)
	CompleteLogin(ctx context.Context, providerName, code, verifier string) (*auth.LoginResult, error)
}

// SessionStore はセッションCookieの読み書き。session.Managerが実装する。
type SessionStore interface {
	User(r *http.Request) (*model.SessionUser, *session.Token)
	SaveLogin(w http.ResponseWriter, r *http.Request, user *model.SessionUser, token *session.Token) error
	SaveToken(w http.ResponseWriter, r *http.Request, token *session.Token) error
	Clear(w http.ResponseWriter, r *http.Request) error
	SaveFlow(w http.ResponseWriter, r *http.Request, flow session.Flow) error
	PopFlow(w http.ResponseWriter, r *http.Request) (*session.Flow, error)
}

// LoginRecorder はログイン試行の結果を記録する。
type LoginRecorder interface {
	RecordLogin(provider, outcome string)
}

// AuthHandler はログインフローのHTTPハンドラー。
type AuthHandler struct {
	service  AuthService
	sessions SessionStore
	renderer *Renderer
	recorder LoginRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthService, sessions SessionStore, renderer *Renderer, recorder LoginRecorder) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		renderer: renderer,
		recorder: recorder,
	}
}

// Login はOAuthフローを開始する。
// GET /login/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	authz, err := h.service.BeginLogin(r.Context(), providerName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrProviderNotConfigured):
			h.renderer.errorPage(w, r, http.StatusNotFound, model.NewProviderNotConfiguredError(providerName))
		case errors.Is(err, auth.ErrProviderFailure):
			slog.Error("failed to begin login",
				slog.String("provider", providerName),
				slog.String("error", err.Error()),
			)
			h.renderer.errorPage(w, r, http.StatusBadGateway, model.NewAuthFailedError())
		default:
			slog.Error("failed to begin login",
				slog.String("provider", providerName),
				slog.String("error", err.Error()),
			)
			h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		}
		return
	}

	// stateとverifierはコールバックまでフローCookieに保持する
	flow := session.Flow{Provider: providerName, State: authz.State, Verifier: authz.Verifier}
	if err := h.sessions.SaveFlow(w, r, flow); err != nil {
		slog.Error("failed to save login flow", slog.String("error", err.Error()))
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	http.Redirect(w, r, authz.URL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if !slices.Contains(h.service.Providers(), providerName) {
		h.renderer.errorPage(w, r, http.StatusNotFound, model.NewProviderNotConfiguredError(providerName))
		return
	}

	// フローCookieは成否にかかわらず使い捨てる
	flow, err := h.sessions.PopFlow(w, r)
	if err != nil {
		slog.Error("failed to read login flow", slog.String("error", err.Error()))
		h.record(providerName, metrics.LoginInternalError)
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	query := r.URL.Query()

	// 1. IdPが認可を拒否した場合
	if reason := query.Get("error"); reason != "" {
		slog.Warn("provider returned error",
			slog.String("provider", providerName),
			slog.String("reason", truncate(reason, 64)),
		)
		h.record(providerName, metrics.LoginDenied)
		h.renderer.errorPage(w, r, http.StatusBadRequest, model.NewProviderDeniedError(truncate(reason, 64)))
		return
	}

	// 2. stateの検証（CSRF対策）
	state := query.Get("state")
	if flow == nil || flow.Provider != providerName || state == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(flow.State)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", providerName))
		h.record(providerName, metrics.LoginInvalidState)
		h.renderer.errorPage(w, r, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		h.record(providerName, metrics.LoginInvalidState)
		h.renderer.errorPage(w, r, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	// 4. 認証処理
	result, err := h.service.CompleteLogin(r.Context(), providerName, code, flow.Verifier)
	if err != nil {
		h.handleLoginError(w, r, providerName, err)
		return
	}

	// 5. セッションにユーザー概要とトークンを保存
	user := &model.SessionUser{
		ID:       result.User.ID,
		Name:     result.User.Name,
		Email:    result.User.Email,
		Provider: result.User.Provider,
	}
	if result.Profile != nil {
		user.AvatarURL = result.Profile.AvatarURL
	}
	if err := h.sessions.SaveLogin(w, r, user, session.NewToken(result.Token)); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		h.record(providerName, metrics.LoginInternalError)
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	h.record(providerName, metrics.LoginSuccess)
	http.Redirect(w, r, "/dashboard", http.StatusTemporaryRedirect)
}

// handleLoginError はCompleteLoginのエラーをステータスコードとエラーページに変換する。
func (h *AuthHandler) handleLoginError(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEmailConflict:
		h.record(providerName, metrics.LoginConflict)
		h.renderer.errorPage(w, r, http.StatusConflict, apiErr)
	case errors.Is(err, auth.ErrProviderNotConfigured):
		h.renderer.errorPage(w, r, http.StatusNotFound, model.NewProviderNotConfiguredError(providerName))
	case errors.Is(err, auth.ErrProviderFailure):
		slog.Error("oauth callback failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		h.record(providerName, metrics.LoginProviderError)
		h.renderer.errorPage(w, r, http.StatusBadGateway, model.NewAuthFailedError())
	default:
		slog.Error("oauth callback failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		h.record(providerName, metrics.LoginInternalError)
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
	}
}

// Logout はセッションからユーザーとトークンを削除する。
// GET /logout, POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(w, r); err != nil {
		// Cookieが書けなくてもトップページへ戻す
		slog.Error("failed to clear session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type meResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Provider: user.Provider,
	})
}

func (h *AuthHandler) record(provider, outcome string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(provider, outcome)
	}
}

// truncate は文字列を最大nルーンに切り詰める。
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
