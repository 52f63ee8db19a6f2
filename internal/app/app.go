// Package app はコマンドの解析と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/oauthboard/internal/auth"
	"github.com/hitoshi/oauthboard/internal/config"
	"github.com/hitoshi/oauthboard/internal/dashboard"
	"github.com/hitoshi/oauthboard/internal/database"
	"github.com/hitoshi/oauthboard/internal/handler"
	"github.com/hitoshi/oauthboard/internal/logger"
	"github.com/hitoshi/oauthboard/internal/metrics"
	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/repository"
	"github.com/hitoshi/oauthboard/internal/security"
	"github.com/hitoshi/oauthboard/internal/session"
	"github.com/hitoshi/oauthboard/internal/user"
)

// avatarHosts はアバター画像の取得を許可するホスト（サフィックス一致）。
var avatarHosts = []string{
	"githubusercontent.com",
	"googleusercontent.com",
	"gravatar.com",
}

const avatarFetchTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// Server はワイヤリング済みのHTTPハンドラーと後始末。
type Server struct {
	Handler http.Handler
	// Providers は有効化されたプロバイダー名
	Providers []string

	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのゴルーチンを停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer はConfigとDB接続から全依存関係をワイヤリングする。
// regにはアプリケーションのメトリクスを登録する。
func NewServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*Server, error) {
	dialect, _, err := database.ParseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. リポジトリとドメインサービス
	userService := user.NewService(
		repository.NewSQLUserRepo(db, dialect),
		repository.NewSQLMetricRepo(db, dialect),
		collector,
	)
	sanitizer := security.NewTextSanitizer()

	// 3. プロバイダー（クライアント情報が揃っているものだけ登録）
	registry := auth.NewRegistry(buildProviders(cfg)...)
	authService := auth.NewService(registry, userService, sanitizer)
	if len(registry.Names()) == 0 {
		slog.Warn("no login providers configured")
	}

	// 4. ダッシュボードのデータソース
	dashboards := buildDashboards(cfg, collector, sanitizer)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CookieSecure: cfg.CookieSecure,
		Sessions: session.NewManager(session.Options{
			Secret: cfg.SecretKey,
			MaxAge: cfg.SessionMaxAge,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		}),
		AuthService:    authService,
		UserService:    userService,
		Dashboards:     dashboards,
		Avatars:        security.NewAvatarFetcher(avatarFetchTimeout, avatarHosts),
		DB:             db,
		Renderer:       handler.MustNewRenderer(),
		Recorder:       collector,
		MetricsHandler: metrics.Handler(reg),
	})

	return &Server{
		Handler:     router,
		Providers:   registry.Names(),
		rateLimiter: rateLimiter,
	}, nil
}

// buildProviders は設定済みのプロバイダーを生成する。
func buildProviders(cfg *config.Config) []auth.Provider {
	var providers []auth.Provider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL("google"),
			APIScopes:    cfg.GoogleAPIScopes,
		}))
	}
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.GitHubConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.CallbackURL("github"),
		}))
	}
	if cfg.OIDCEnabled() {
		providers = append(providers, auth.NewOIDCProvider(auth.OIDCConfig{
			Name:         cfg.OIDCProviderName,
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.CallbackURL(cfg.OIDCProviderName),
			Scopes:       cfg.OIDCScopes,
		}))
	}
	return providers
}

// buildDashboards はプロバイダーごとのダッシュボードのデータソースを登録する。
// Googleは追加スコープを要求する場合のみDrive/Calendar/Gmailを表示する。
func buildDashboards(cfg *config.Config, observer dashboard.Observer, sanitizer dashboard.Sanitizer) *dashboard.Service {
	svc := dashboard.NewService(cfg.ProviderAPITimeout, observer)
	if cfg.GoogleEnabled() && cfg.GoogleAPIScopes {
		svc.Register("google",
			dashboard.NewDriveSource(sanitizer),
			dashboard.NewCalendarSource(sanitizer),
			dashboard.NewGmailSource(sanitizer),
		)
	}
	if cfg.GitHubEnabled() {
		svc.Register("github", dashboard.NewGitHubSource(""))
	}
	return svc
}

// runServe はHTTPサーバーを起動する。
// AUTO_MIGRATEが有効ならマイグレーションを適用してから、全依存関係をワイヤリングする。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. マイグレーション
	if cfg.AutoMigrate {
		if err := runMigrate(cfg); err != nil {
			return err
		}
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. ワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := NewServer(cfg, db, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	slog.Info("login providers configured", slog.Any("providers", srv.Providers))

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// ダッシュボードはIdPのAPI待ちを含むためタイムアウトに余裕を持たせる
		WriteTimeout: cfg.ProviderAPITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// SQLiteのパスはそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
