package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
)

// Recorder はログイン結果とHTTPステータスを記録する。metrics.Collectorが実装する。
type Recorder interface {
	LoginRecorder
	middleware.StatusObserver
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger       *slog.Logger
	RateLimiter  *middleware.RateLimiter
	CSRF         middleware.CSRFConfig
	CookieSecure bool

	// セッション
	Sessions SessionStore

	// サービス
	AuthService AuthService
	UserService UserService
	Dashboards  DashboardLoader
	Avatars     AvatarFetcher
	DB          Pinger

	// 表示
	Renderer *Renderer

	// メトリクス（nilの場合は記録しない・/metricsを公開しない）
	Recorder       Recorder
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Session → Logging → RateLimit(General) → CSRF
//
// /health と /metrics はレート制限とCSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var (
		loginRecorder  LoginRecorder
		statusObserver middleware.StatusObserver
	)
	if deps.Recorder != nil {
		loginRecorder = deps.Recorder
		statusObserver = deps.Recorder
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewSessionMiddleware(deps.Sessions))
	r.Use(middleware.NewLoggingMiddleware(logger, statusObserver))

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.Renderer, loginRecorder)
	pageHandler := NewPageHandler(deps.AuthService, deps.UserService, deps.Dashboards, deps.Avatars, deps.Sessions, deps.Renderer)
	accountHandler := NewAccountHandler(deps.UserService, deps.Sessions, deps.Renderer)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 画面・ログインフロー ---
	// ミドルウェアスタック: RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", pageHandler.Home)

		// ログインフロー（IP単位のレート制限を追加）
		r.With(deps.RateLimiter.LoginMiddleware()).Get("/login/{provider}", authHandler.Login)
		r.With(deps.RateLimiter.LoginMiddleware()).Get("/auth/{provider}/callback", authHandler.Callback)

		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)

		// ログイン必須
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)

			r.Get("/dashboard", pageHandler.Dashboard)
			r.Get("/avatar", pageHandler.Avatar)
			r.Post("/account/delete", accountHandler.Delete)
			r.Get("/api/me", authHandler.Me)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		deps.Renderer.errorPage(w, r, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "ページが見つかりません。",
			Category: "validation",
			Action:   "URLを確認してください。",
		})
	})

	return r
}
