// ============================================================================
// zerog-bots Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露 bot 執行指標
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - zerog_actions_total{module,outcome}: 鏈上動作結果
//      - zerog_retries_total{op}: RetryExecutor 的重試次數
//      - zerog_ledger_ops_total{op,result}: 推薦碼帳本操作
//      - zerog_tasks_total{kind,outcome}: campaign 任務處理結果
//      - zerog_wallets_total{status}: 完成的錢包數
//
//   2. 分佈 (Histogram)：
//      - zerog_wallet_duration_seconds: 單一錢包從開始到結束的時間
//
//   3. 瞬時值 (Gauge)：
//      - zerog_wallets_in_flight: 目前執行中的錢包數
//
// Prometheus 查詢示例:
//
//   # 各模組失敗率
//   sum by (module) (rate(zerog_actions_total{outcome="failure"}[10m]))
//     / sum by (module) (rate(zerog_actions_total[10m]))
//
//   # 當日已領取的比例
//   zerog_actions_total{outcome="already_done"}
//
// HTTP 端點: 見 router.go
//
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// Collector Prometheus 指標收集器
type Collector struct {
	actions   *prometheus.CounterVec
	retries   *prometheus.CounterVec
	ledgerOps *prometheus.CounterVec
	tasks     *prometheus.CounterVec
	wallets   *prometheus.CounterVec

	walletDuration prometheus.Histogram
	inFlight       prometheus.Gauge
}

// NewCollector 創建新的指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	c := &Collector{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerog_actions_total",
			Help: "Chain actions by module and outcome",
		}, []string{"module", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerog_retries_total",
			Help: "Retry attempts after a failed try",
		}, []string{"op"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerog_ledger_ops_total",
			Help: "Referral ledger operations by result",
		}, []string{"op", "result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerog_tasks_total",
			Help: "Campaign tasks handled by kind and outcome",
		}, []string{"kind", "outcome"}),
		wallets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerog_wallets_total",
			Help: "Wallets finished by final status",
		}, []string{"status"}),
		walletDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zerog_wallet_duration_seconds",
			Help:    "Wall time spent on one wallet",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zerog_wallets_in_flight",
			Help: "Wallets currently being processed",
		}),
	}

	prometheus.MustRegister(c.actions)
	prometheus.MustRegister(c.retries)
	prometheus.MustRegister(c.ledgerOps)
	prometheus.MustRegister(c.tasks)
	prometheus.MustRegister(c.wallets)
	prometheus.MustRegister(c.walletDuration)
	prometheus.MustRegister(c.inFlight)

	return c
}

// RecordAction 記錄鏈上動作結果
func (c *Collector) RecordAction(module string, o types.Outcome) {
	c.actions.WithLabelValues(module, o.Kind.String()).Inc()
}

// RecordRetry 記錄一次重試（用於 retry.Policy.OnRetry）
func (c *Collector) RecordRetry(op string) {
	c.retries.WithLabelValues(op).Inc()
}

// LedgerObserver 回傳可傳給 ledger.Instrumented 的觀察函式
func (c *Collector) LedgerObserver() func(op string, err error) {
	return func(op string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.ledgerOps.WithLabelValues(op, result).Inc()
	}
}

// RecordTask 記錄 campaign 任務處理結果
func (c *Collector) RecordTask(kind string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.tasks.WithLabelValues(kind, outcome).Inc()
}

// WalletStarted 錢包開始執行
func (c *Collector) WalletStarted() {
	c.inFlight.Inc()
}

// WalletFinished 錢包結束；記錄狀態與耗時
func (c *Collector) WalletFinished(status types.WalletStatus, elapsed time.Duration) {
	c.inFlight.Dec()
	c.wallets.WithLabelValues(string(status)).Inc()
	c.walletDuration.Observe(elapsed.Seconds())
}
