package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reservation_notifier"

var (
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification attempts by outcome"},
		[]string{"role", "transition", "outcome"},
	)
	NotificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "notification_send_seconds", Help: "Email provider send latency"})

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "watcher_events_total", Help: "Change events seen by the watcher"},
		[]string{"outcome"},
	)
	WatcherResubscribesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "watcher_resubscribes_total", Help: "Change feed resubscribe attempts"})
	WatcherState             = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "watcher_state", Help: "Current watcher state (0 stopped, 1 subscribing, 2 active, 3 reconnecting)"})

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "confirmations_total", Help: "Confirm workflow results"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
