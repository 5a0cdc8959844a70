package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var (
	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "najdeno_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Embedding
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "najdeno_embedding_duration_seconds",
			Help:    "Time spent turning an image into an embedding",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"extractor"},
	)

	EmbeddingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_embedding_errors_total",
			Help: "Embedding failures by stage",
		},
		[]string{"op"},
	)

	ExtractorLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_extractor_loads_total",
			Help: "Extractor load attempts by result",
		},
		[]string{"result"},
	)

	// Matching
	MatchDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_match_decisions_total",
			Help: "Match pipeline outcomes",
		},
		[]string{"outcome"}, // "matched", "no_match", "claim_lost", "error", "skipped"
	)

	CandidatesScanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "najdeno_match_candidates",
			Help:    "Number of candidates considered per decision",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)

	// Notifications
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_notifications_total",
			Help: "Match notification deliveries by result",
		},
		[]string{"result"}, // "sent", "failed"
	)

	// Realtime
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "najdeno_websocket_clients",
			Help: "Currently connected websocket clients",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_events_dropped_total",
			Help: "Realtime events dropped because a buffer was full",
		},
		[]string{"where"}, // "hub", "client"
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "najdeno_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "najdeno_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// BreakerStateChange records a circuit breaker transition. It matches the
// gobreaker.Settings.OnStateChange signature.
func BreakerStateChange(name string, from, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
	CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
