package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/dashboard"
	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/security"
	"github.com/hitoshi/oauthboard/internal/session"
)

// UserService はページ表示とアカウント削除に必要なユーザー操作。
// user.Serviceの部分集合として定義する。
type UserService interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
	Metrics(ctx context.Context, userID int64) ([]*model.Metric, error)
	Withdraw(ctx context.Context, userID int64) error
}

// DashboardLoader はIdPのAPIからダッシュボードのデータを取得する。
type DashboardLoader interface {
	HasSources(provider string) bool
	Load(ctx context.Context, provider string, client *http.Client) *dashboard.Dashboard
}

// AvatarFetcher はアバター画像をSSRF対策済みのクライアントで取得する。
type AvatarFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*security.Avatar, error)
}

// PageHandler はHTMLページのハンドラー。
type PageHandler struct {
	auth       AuthService
	users      UserService
	dashboards DashboardLoader
	avatars    AvatarFetcher
	sessions   SessionStore
	renderer   *Renderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(
	authService AuthService,
	users UserService,
	dashboards DashboardLoader,
	avatars AvatarFetcher,
	sessions SessionStore,
	renderer *Renderer,
) *PageHandler {
	return &PageHandler{
		auth:       authService,
		users:      users,
		dashboards: dashboards,
		avatars:    avatars,
		sessions:   sessions,
		renderer:   renderer,
	}
}

// Home はトップページを表示する。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	h.renderer.page(w, r, http.StatusOK, pageHome, &pageData{
		Title:     "ホーム",
		User:      user,
		Providers: h.auth.Providers(),
	})
}

// Dashboard はログインユーザーのダッシュボードを表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	// 1. ユーザーの存在確認（退会済み・古いCookieはセッションを破棄）
	user, err := h.users.Get(ctx, sessionUser.ID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			slog.Info("session user no longer exists", slog.Int64("user_id", sessionUser.ID))
			if clearErr := h.sessions.Clear(w, r); clearErr != nil {
				slog.Error("failed to clear session", slog.String("error", clearErr.Error()))
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		slog.Error("failed to get user", slog.String("error", err.Error()))
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	// 2. メトリクス
	metricRows, err := h.users.Metrics(ctx, user.ID)
	if err != nil {
		slog.Error("failed to list metrics", slog.String("error", err.Error()))
		h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	// 3. IdPのデータ（取得失敗はセクションごとの通知になる）
	board := h.loadDashboard(w, r, user.Provider)

	h.renderer.page(w, r, http.StatusOK, pageDashboard, &pageData{
		Title: "ダッシュボード",
		User: &model.SessionUser{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			Provider:  user.Provider,
			AvatarURL: sessionUser.AvatarURL,
		},
		Metrics:   metricRows,
		Dashboard: board,
	})
}

// loadDashboard はセッションのトークンでIdPのAPIを呼び出す。
// トークンがリフレッシュされた場合は新しいトークンをセッションに書き戻す。
func (h *PageHandler) loadDashboard(w http.ResponseWriter, r *http.Request, providerName string) *dashboard.Dashboard {
	if !h.dashboards.HasSources(providerName) {
		return &dashboard.Dashboard{}
	}

	_, token := h.sessions.User(r)
	if token == nil || token.AccessToken == "" {
		return &dashboard.Dashboard{}
	}

	provider, err := h.auth.Provider(providerName)
	if err != nil {
		slog.Warn("provider for dashboard is not configured", slog.String("provider", providerName))
		return &dashboard.Dashboard{
			Notices: []dashboard.Notice{{Source: providerName, Message: "プロバイダーが設定されていないため表示できません。"}},
		}
	}

	ctx := r.Context()
	current := token.OAuth2()
	ts := provider.TokenSource(ctx, current)
	board := h.dashboards.Load(ctx, providerName, oauth2.NewClient(ctx, ts))

	latest, err := ts.Token()
	if err != nil || latest.AccessToken == current.AccessToken {
		return board
	}
	if err := h.sessions.SaveToken(w, r, session.NewToken(latest)); err != nil {
		slog.Error("failed to save refreshed token", slog.String("error", err.Error()))
	} else {
		slog.Debug("refreshed token saved", slog.String("provider", providerName))
	}
	return board
}

// Avatar はログインユーザーのアバター画像を中継する。
// GET /avatar
func (h *PageHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok || user.AvatarURL == "" {
		http.NotFound(w, r)
		return
	}

	avatar, err := h.avatars.Fetch(r.Context(), user.AvatarURL)
	if err != nil {
		if errors.Is(err, security.ErrAvatarRejected) {
			slog.Warn("avatar rejected", slog.String("error", err.Error()))
			http.NotFound(w, r)
			return
		}
		slog.Warn("failed to fetch avatar", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", avatar.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(avatar.Body)
}
