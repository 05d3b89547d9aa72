package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for inbound event metrics
	eventLabels = []string{"event_type", "company_id", "source"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "company_id", "source", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_events_received_total",
			Help: "Total number of production events received, labeled by source.",
		},
		eventLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_events_processed_total",
			Help: "Total number of production events applied by the transition engine.",
		},
		eventLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_events_failed_total",
			Help: "Total number of production events that could not be applied.",
		},
		eventLabels,
	)
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "production_feedback_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_event_processing_actions_total",
			Help: "Outcome of each consumed queue message (ack, drop, panic).",
		},
		eventActionLabels,
	)
)

// Transition engine metrics
var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_transitions_total",
			Help: "Status transitions committed, labeled by previous and new status.",
		},
		[]string{"from", "to", "source"},
	)
	AnomalousTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_anomalous_transitions_total",
			Help: "Transitions applied but flagged as anomalous.",
		},
		[]string{"kind", "source"},
	)
	FeedbackAutoCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "production_feedback_auto_created_total",
			Help: "Feedback records created implicitly from machine queue events.",
		},
	)
)

// Notification metrics
var (
	NotificationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_notifications_created_total",
			Help: "Notifications persisted by the dispatch policy or the API.",
		},
		[]string{"type", "recipient_type"},
	)
	NotificationPersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_notification_persist_failures_total",
			Help: "Notifications the dispatch policy failed to persist.",
		},
		[]string{"type"},
	)
	NotificationOrphanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "production_feedback_notification_orphaned_total",
			Help: "Notifications accepted with a feedbackId that matches no feedback record.",
		},
	)
	NotificationDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_notification_deliveries_total",
			Help: "Notification delivery attempts, labeled by channel and status.",
		},
		[]string{"channel", "status"},
	)
)

// Marketplace metrics
var (
	MarketplaceSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_marketplace_sync_total",
			Help: "Marketplace sync attempts, labeled by result.",
		},
		[]string{"result", "trigger"},
	)
	MarketplaceSyncDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "production_feedback_marketplace_sync_duration_seconds",
			Help:    "Duration of outbound marketplace update calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// Infrastructure metrics
var (
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "production_feedback_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation", "entity", "company_id", "status"},
	)
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_worker_tasks_total",
			Help: "Tasks handed to background worker pools, labeled by outcome.",
		},
		[]string{"pool", "outcome"},
	)
	WorkerTaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "production_feedback_worker_task_duration_seconds",
			Help:    "Duration of background worker tasks.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"pool"},
	)
	QueueConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "production_feedback_queue_connected",
			Help: "1 when the machine queue consumer holds a live broker connection.",
		},
	)
	QueueReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "production_feedback_queue_reconnect_attempts_total",
			Help: "Failed broker connection attempts that scheduled a reconnect.",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_feedback_http_requests_total",
			Help: "HTTP requests served, labeled by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "production_feedback_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Load generator metrics
var (
	loadgenLabels = []string{"subject", "company_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_attempted_total",
			Help: "Total number of messages the load generator attempted to publish.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_published_total",
			Help: "Total number of messages successfully published by the load generator.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_publish_errors_total",
			Help: "Total number of errors encountered by the load generator during publishing.",
		},
		loadgenLabels,
	)
)

// InitMetrics toggles metric collection. Metrics are registered by promauto
// at package init, so disabling only stops the helpers from recording.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// Enabled reports whether the helpers record metrics.
func Enabled() bool {
	return metricsEnabled
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, source string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), source).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, source string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), source).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, source string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), source).Inc()
}

// ObserveEventProcessingDuration records the duration of handling one event.
func ObserveEventProcessingDuration(eventType, tenant, source string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), source).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, source, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), source, action, SanitizeErrorType(errorType)).Inc()
}

// IncTransition records a committed status transition.
func IncTransition(from, to, source string) {
	if !metricsEnabled {
		return
	}
	if from == "" {
		from = "none"
	}
	TransitionsTotal.WithLabelValues(from, to, source).Inc()
}

// IncAnomalousTransition records a flagged transition.
func IncAnomalousTransition(kind, source string) {
	if !metricsEnabled {
		return
	}
	AnomalousTransitionsTotal.WithLabelValues(kind, source).Inc()
}

// IncFeedbackAutoCreated records an implicit feedback creation.
func IncFeedbackAutoCreated() {
	if !metricsEnabled {
		return
	}
	FeedbackAutoCreatedTotal.Inc()
}

// IncNotificationCreated records a persisted notification.
func IncNotificationCreated(notificationType, recipientType string) {
	if !metricsEnabled {
		return
	}
	NotificationsCreatedTotal.WithLabelValues(notificationType, recipientType).Inc()
}

// IncNotificationPersistFailure records a notification the dispatcher could not store.
func IncNotificationPersistFailure(notificationType string) {
	if !metricsEnabled {
		return
	}
	NotificationPersistFailuresTotal.WithLabelValues(notificationType).Inc()
}

// IncNotificationOrphaned records a notification referencing missing feedback.
func IncNotificationOrphaned() {
	if !metricsEnabled {
		return
	}
	NotificationOrphanedTotal.Inc()
}

// IncNotificationDelivery records one delivery attempt on a channel.
func IncNotificationDelivery(channel string, err error) {
	if !metricsEnabled {
		return
	}
	NotificationDeliveriesTotal.WithLabelValues(channel, statusLabel(err)).Inc()
}

// ObserveMarketplaceSync records the outcome and duration of a marketplace push.
func ObserveMarketplaceSync(trigger string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	MarketplaceSyncTotal.WithLabelValues(statusLabel(err), trigger).Inc()
	MarketplaceSyncDurationSeconds.Observe(duration.Seconds())
}

// IncMarketplaceSyncSkipped records a sync that did not meet its precondition.
func IncMarketplaceSyncSkipped(trigger string) {
	if !metricsEnabled {
		return
	}
	MarketplaceSyncTotal.WithLabelValues("skipped", trigger).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), statusLabel(err)).Observe(duration.Seconds())
}

// IncWorkerTask records a task submitted to, rejected by, or finished in a worker pool.
func IncWorkerTask(pool, outcome string) {
	if !metricsEnabled {
		return
	}
	WorkerTasksTotal.WithLabelValues(pool, outcome).Inc()
}

// ObserveWorkerTaskDuration records the runtime of one worker task.
func ObserveWorkerTaskDuration(pool string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	WorkerTaskDurationSeconds.WithLabelValues(pool).Observe(duration.Seconds())
}

// SetQueueConnected flips the queue connection gauge.
func SetQueueConnected(connected bool) {
	if !metricsEnabled {
		return
	}
	if connected {
		QueueConnected.Set(1)
		return
	}
	QueueConnected.Set(0)
}

// IncQueueReconnectAttempt records a failed broker connection attempt.
func IncQueueReconnectAttempt() {
	if !metricsEnabled {
		return
	}
	QueueReconnectAttemptsTotal.Inc()
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route, code string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "invalid event"), strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "missing"):
		return "validation"
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// IncLoadgenMessagesAttempted increments the attempted publish counter of the load generator.
func IncLoadgenMessagesAttempted(subject, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}

// IncLoadgenMessagesPublished increments the successful publish counter of the load generator.
func IncLoadgenMessagesPublished(subject, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}

// IncLoadgenPublishErrors increments the publish error counter of the load generator.
func IncLoadgenPublishErrors(subject, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenPublishErrorsTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}
