// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedMetrics は通知ストリームのメトリクス収集インターフェース。
type FeedMetrics interface {
	StreamOpened()
	StreamClosed()
	RecordFeedEvent(eventType string)
	RecordPollError()
}

// AuthMetrics は認証系のメトリクス収集インターフェース。
type AuthMetrics interface {
	RecordLogin(result string)
	RecordPasswordChange(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activeStreams        prometheus.Gauge
	feedEvents           *prometheus.CounterVec
	pollErrors           prometheus.Counter
	notificationsCreated prometheus.Counter
	logins               *prometheus.CounterVec
	passwordChanges      *prometheus.CounterVec
	cleanupDeleted       *prometheus.CounterVec
	httpStatus           *prometheus.CounterVec
	httpLatency          prometheus.Histogram
}

var (
	_ FeedMetrics = (*Collector)(nil)
	_ AuthMetrics = (*Collector)(nil)
)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "troophub_notification_streams_active",
			Help: "接続中の通知ストリーム数",
		}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troophub_notification_stream_events_total",
			Help: "種別ごとの通知ストリーム送信イベント数",
		}, []string{"type"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "troophub_notification_poll_errors_total",
			Help: "通知ストリームのポーリング失敗の合計数",
		}),
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "troophub_notifications_created_total",
			Help: "作成された通知の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troophub_login_attempts_total",
			Help: "結果ごとのログイン試行数",
		}, []string{"result"}),
		passwordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troophub_password_changes_total",
			Help: "結果ごとのパスワード変更数",
		}, []string{"result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troophub_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troophub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "troophub_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.activeStreams,
		c.feedEvents,
		c.pollErrors,
		c.notificationsCreated,
		c.logins,
		c.passwordChanges,
		c.cleanupDeleted,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// StreamOpened は通知ストリームの接続開始を記録する。
func (c *Collector) StreamOpened() {
	c.activeStreams.Inc()
}

// StreamClosed は通知ストリームの切断を記録する。
func (c *Collector) StreamClosed() {
	c.activeStreams.Dec()
}

// RecordFeedEvent は送信したストリームイベントを記録する。
func (c *Collector) RecordFeedEvent(eventType string) {
	c.feedEvents.WithLabelValues(eventType).Inc()
}

// RecordPollError はポーリング失敗を記録する。
func (c *Collector) RecordPollError() {
	c.pollErrors.Inc()
}

// RecordNotificationsCreated は作成された通知数を記録する。
func (c *Collector) RecordNotificationsCreated(count int) {
	c.notificationsCreated.Add(float64(count))
}

// RecordLogin はログイン試行の結果（success, failure）を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordPasswordChange はパスワード変更の結果（success, failure）を記録する。
func (c *Collector) RecordPasswordChange(result string) {
	c.passwordChanges.WithLabelValues(result).Inc()
}

// RecordCleanup はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanup(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
