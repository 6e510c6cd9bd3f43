package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 入站 webhook 事件计数
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of inbound CRM notifications by event and outcome",
		},
		[]string{"event", "outcome"}, // outcome: processed, ignored, invalid, rejected, duplicate, failed
	)

	// 单个同步单元耗时（秒）
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of one reconciliation unit in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"entity", "outcome"},
	)

	// CRM 调用延迟（毫秒）
	CRMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_call_latency_ms",
			Help:    "Remote CRM call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 11), // 50ms to ~50s
		},
		[]string{"method", "status"},
	)

	// 附件镜像结果计数
	AttachmentMirrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachment_mirror_total",
			Help: "Attachment mirror outcomes",
		},
		[]string{"outcome"}, // outcome: mirrored, reused, unavailable, upload_error, db_error
	)

	// 实时推送结果计数
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcast_deliveries_total",
			Help: "Real-time deliveries by result",
		},
		[]string{"result"}, // result: delivered, failed
	)

	// 当前实时连接数
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of open real-time connections",
		},
	)

	// 数据库慢查询（秒）
	SlowQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of queries above the slow threshold in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// IncrementWebhookEvent 增加 webhook 事件计数
func IncrementWebhookEvent(event, outcome string) {
	WebhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordReconcileDuration 记录同步单元耗时
func RecordReconcileDuration(entity, outcome string, duration time.Duration) {
	ReconcileDuration.WithLabelValues(entity, outcome).Observe(duration.Seconds())
}

// RecordCRMCallLatency 记录 CRM 调用延迟
func RecordCRMCallLatency(method, status string, duration time.Duration) {
	CRMCallLatency.WithLabelValues(method, status).Observe(float64(duration.Milliseconds()))
}

// IncrementAttachmentMirror 增加附件镜像计数
func IncrementAttachmentMirror(outcome string) {
	AttachmentMirrorTotal.WithLabelValues(outcome).Inc()
}

// RecordBroadcast 记录一次广播的投递结果
func RecordBroadcast(delivered, failed int) {
	BroadcastDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	BroadcastDeliveries.WithLabelValues("failed").Add(float64(failed))
}

// IncrementSlowQuery 记录慢查询，按 SQL 首个关键字分组
func IncrementSlowQuery(sql string, duration time.Duration) {
	operation := "unknown"
	if fields := strings.Fields(sql); len(fields) > 0 {
		operation = strings.ToLower(fields[0])
	}
	SlowQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
