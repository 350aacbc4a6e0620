// Package metrics provides Prometheus collectors for relaybot.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybot"

var (
	// updatesTotal counts Telegram updates by kind.
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Total number of Telegram updates received",
		},
		[]string{"kind"}, // text, voice, command, business, ignored
	)

	// completionRequestsTotal counts completion calls by persona and outcome.
	completionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Total number of completion API calls",
		},
		[]string{"persona", "outcome"}, // outcome: success, empty, timeout, rate_limited, error
	)

	// completionDuration observes completion call latency.
	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Duration of completion API calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"persona"},
	)

	// speechRequestsTotal counts speech API calls.
	speechRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Total number of speech API calls",
		},
		[]string{"operation", "outcome"}, // operation: stt, tts
	)

	// conversations tracks how many conversations are stored.
	conversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Number of conversations held in the context store",
		},
	)
)

var allCollectors = []prometheus.Collector{
	updatesTotal,
	completionRequestsTotal,
	completionDuration,
	speechRequestsTotal,
	conversations,
}

// Register adds all collectors to reg. Already registered collectors are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range allCollectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordUpdate counts an incoming update.
func RecordUpdate(kind string) {
	updatesTotal.WithLabelValues(kind).Inc()
}

// RecordCompletion records one completion call.
func RecordCompletion(persona, outcome string, durationSeconds float64) {
	completionRequestsTotal.WithLabelValues(persona, outcome).Inc()
	completionDuration.WithLabelValues(persona).Observe(durationSeconds)
}

// RecordSpeech records one speech API call.
func RecordSpeech(operation, outcome string) {
	speechRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetConversations reports the context store size.
func SetConversations(n int) {
	conversations.Set(float64(n))
}
