// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commandTotal           *prometheus.CounterVec
	commandLatency         prometheus.Histogram
	verificationsIssued    prometheus.Counter
	verificationsCompleted prometheus.Counter
	sweepExpired           prometheus.Counter
	sweepReconciled        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkhub_command_total",
			Help: "リモートコマンド実行の種類別・結果別の合計数",
		}, []string{"kind", "status"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkhub_command_latency_seconds",
			Help:    "リモートコマンドのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		verificationsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_verifications_issued_total",
			Help: "発行された認証コードの合計数",
		}),
		verificationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_verifications_completed_total",
			Help: "完了した認証の合計数",
		}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_sweep_expired_total",
			Help: "スイープで期限切れにした認証チケットの合計数",
		}),
		sweepReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_sweep_reconciled_total",
			Help: "スイープでリモート状態の照合が完了したアカウントの合計数",
		}),
	}

	reg.MustRegister(
		c.commandTotal,
		c.commandLatency,
		c.verificationsIssued,
		c.verificationsCompleted,
		c.sweepExpired,
		c.sweepReconciled,
	)

	return c
}

// RecordCommand はリモートコマンドの実行結果を記録する。
func (c *Collector) RecordCommand(kind, status string) {
	c.commandTotal.WithLabelValues(kind, status).Inc()
}

// RecordCommandLatency はリモートコマンドのレイテンシを記録する。
func (c *Collector) RecordCommandLatency(duration time.Duration) {
	c.commandLatency.Observe(duration.Seconds())
}

// RecordVerificationIssued は認証コードの発行を記録する。
func (c *Collector) RecordVerificationIssued() {
	c.verificationsIssued.Inc()
}

// RecordVerificationCompleted は認証の完了を記録する。
func (c *Collector) RecordVerificationCompleted() {
	c.verificationsCompleted.Inc()
}

// RecordSweepExpired はスイープによる期限切れ処理を記録する。
func (c *Collector) RecordSweepExpired() {
	c.sweepExpired.Inc()
}

// RecordSweepReconciled はスイープによる照合完了を記録する。
func (c *Collector) RecordSweepReconciled() {
	c.sweepReconciled.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
