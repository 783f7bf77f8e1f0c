package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"queue", "outcome"},
	)

	// 事件发布计数
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of event envelopes published",
		},
		[]string{"event", "status"}, // status: success, failed
	)

	// 事件消费计数
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Total number of event envelopes consumed",
		},
		[]string{"event", "outcome"}, // outcome: processed, duplicate, ignored, failed
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification rows persisted",
		},
		[]string{"type"},
	)

	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_skipped_total",
			Help: "Total number of notifications skipped before persistence",
		},
		[]string{"type", "reason"}, // reason: preference, dangling_reference
	)

	// 后台任务计数
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_processed_total",
			Help: "Total number of background notification jobs processed",
		},
		[]string{"job_type", "status"}, // status: completed, retry, dead
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_enqueued_total",
			Help: "Total number of background notification jobs enqueued",
		},
		[]string{"job_type"},
	)

	// 邮件发送延迟（毫秒）
	EmailSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_latency_ms",
			Help:    "Email provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
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

	// 慢查询计数
	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of database queries slower than the configured threshold",
		},
		[]string{"statement"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(queue, outcome string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(queue, outcome).Observe(float64(duration.Milliseconds()))
}

func IncrementEventPublished(event, status string) {
	EventsPublished.WithLabelValues(event, status).Inc()
}

func IncrementEventConsumed(event, outcome string) {
	EventsConsumed.WithLabelValues(event, outcome).Inc()
}

func IncrementNotificationCreated(notificationType string) {
	NotificationsCreated.WithLabelValues(notificationType).Inc()
}

func IncrementNotificationSkipped(notificationType, reason string) {
	NotificationsSkipped.WithLabelValues(notificationType, reason).Inc()
}

func IncrementJobProcessed(jobType, status string) {
	JobsProcessed.WithLabelValues(jobType, status).Inc()
}

func IncrementJobEnqueued(jobType string) {
	JobsEnqueued.WithLabelValues(jobType).Inc()
}

// RecordEmailSendLatency 记录邮件服务调用延迟
func RecordEmailSendLatency(status string, duration time.Duration) {
	EmailSendLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueries.WithLabelValues(statement).Inc()
}
