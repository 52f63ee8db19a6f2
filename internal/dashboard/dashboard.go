// Package dashboard はIdPのAPIからダッシュボード表示用のデータを集める。
//
// 各データソースは並行に取得し、失敗は他のソースに影響しない。
// 失敗したソースはNoticeとして画面に表示する。
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dashboard はダッシュボードに表示するIdP由来のデータ。
// 取得できなかったセクションはnilのままとなる。
type Dashboard struct {
	Drive    *DriveSummary
	Calendar *CalendarSummary
	Gmail    *GmailSummary
	GitHub   *GitHubSummary
	Notices  []Notice
}

// Notice はデータソースの取得失敗を表す。
type Notice struct {
	Source  string
	Message string
}

// Source はダッシュボードの1セクション分のデータを取得する。
// Fetchは自分の担当フィールドのみに書き込むこと（並行に呼ばれる）。
type Source interface {
	Name() string
	Fetch(ctx context.Context, client *http.Client, d *Dashboard) error
}

// Observer はIdP API呼び出しの結果を通知される。
type Observer interface {
	ProviderAPICall(provider, api string, duration time.Duration, err error)
}

// Service はプロバイダーごとのSourceを並行に実行する。
type Service struct {
	sources  map[string][]Source
	timeout  time.Duration
	observer Observer
}

// NewService はServiceを生成する。observerはnilでもよい。
func NewService(timeout time.Duration, observer Observer) *Service {
	return &Service{
		sources:  make(map[string][]Source),
		timeout:  timeout,
		observer: observer,
	}
}

// Register はプロバイダーにSourceを追加する。起動時のみ呼ぶこと。
func (s *Service) Register(provider string, sources ...Source) {
	s.sources[provider] = append(s.sources[provider], sources...)
}

// HasSources はプロバイダーにSourceが登録されているかを返す。
func (s *Service) HasSources(provider string) bool {
	return len(s.sources[provider]) > 0
}

// Load はプロバイダーの全Sourceを並行に実行し、結果をまとめて返す。
// clientはトークンで認可されたHTTPクライアント。個々の失敗はNoticesに入る。
func (s *Service) Load(ctx context.Context, provider string, client *http.Client) *Dashboard {
	d := &Dashboard{}
	sources := s.sources[provider]
	if len(sources) == 0 {
		return d
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	errs := make([]error, len(sources))
	// 1つの失敗で他をキャンセルしないよう、WithContextは使わない
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			err := src.Fetch(ctx, client, d)
			if s.observer != nil {
				s.observer.ProviderAPICall(provider, src.Name(), time.Since(start), err)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		slog.Warn("dashboard source failed",
			slog.String("provider", provider),
			slog.String("source", sources[i].Name()),
			slog.String("error", err.Error()),
		)
		d.Notices = append(d.Notices, Notice{
			Source:  sources[i].Name(),
			Message: noticeMessage(err),
		})
	}

	return d
}

// noticeMessage は画面に表示する失敗理由を返す。詳細はログのみに記録する。
func noticeMessage(err error) string {
	if code := httpStatus(err); code != 0 {
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "アクセスが許可されていません。再ログインして権限を付与してください。"
		case http.StatusTooManyRequests:
			return "APIの利用上限に達しました。しばらく待ってから再度お試しください。"
		default:
			return fmt.Sprintf("取得に失敗しました（HTTP %d）。", code)
		}
	}
	if isTimeout(err) {
		return "取得がタイムアウトしました。"
	}
	return "取得に失敗しました。"
}
