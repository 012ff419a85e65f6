package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventnet_syncagent"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	queueActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_actions_total",
			Help:      "Offline queue actions by outcome (enqueued, delivered, failed, discarded, dead_lettered).",
		},
		[]string{"outcome"},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Pending actions in the offline queue.",
		},
	)

	drainPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drain_passes_total",
			Help:      "Drain passes by trigger source.",
		},
		[]string{"trigger"},
	)

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Realtime update polls by result.",
		},
		[]string{"result"},
	)

	pollInterval = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Delay before the next scheduled poll.",
		},
	)

	unreadNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_unread",
			Help:      "Unread notifications in the store.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the backend is reachable.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			queueActions,
			queueLength,
			drainPasses,
			polls,
			pollInterval,
			unreadNotifications,
			online,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncQueueAction(outcome string) {
	queueActions.WithLabelValues(outcome).Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func IncDrainPass(trigger string) {
	drainPasses.WithLabelValues(trigger).Inc()
}

func IncPoll(result string) {
	polls.WithLabelValues(result).Inc()
}

func SetPollInterval(seconds float64) {
	pollInterval.Set(seconds)
}

func SetUnread(n int) {
	unreadNotifications.Set(float64(n))
}

func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}
