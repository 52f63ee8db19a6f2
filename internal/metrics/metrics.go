// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess       = "success"
	LoginInvalidState  = "invalid_state"
	LoginDenied        = "denied"
	LoginProviderError = "provider_error"
	LoginConflict      = "conflict"
	LoginInternalError = "internal_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	UserCreated(provider string)
	ProviderAPICall(provider, api string, duration time.Duration, err error)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins       *prometheus.CounterVec
	usersCreated *prometheus.CounterVec
	apiCalls     *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthboard_logins_total",
			Help: "プロバイダー・結果別のログイン試行数",
		}, []string{"provider", "outcome"}),
		usersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthboard_users_created_total",
			Help: "プロバイダー別の新規ユーザー作成数",
		}, []string{"provider"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthboard_provider_api_calls_total",
			Help: "ダッシュボード表示時のIdP API呼び出し数",
		}, []string{"provider", "api", "result"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oauthboard_provider_api_latency_seconds",
			Help:    "IdP API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "api"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.usersCreated,
		c.apiCalls,
		c.apiLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// UserCreated は新規ユーザー作成を記録する。
func (c *Collector) UserCreated(provider string) {
	c.usersCreated.WithLabelValues(provider).Inc()
}

// ProviderAPICall はIdP API呼び出しの結果とレイテンシを記録する。
func (c *Collector) ProviderAPICall(provider, api string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.apiCalls.WithLabelValues(provider, api, result).Inc()
	c.apiLatency.WithLabelValues(provider, api).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
