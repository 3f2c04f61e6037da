package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_player_active_sessions",
		Help: "Number of streaming playback sessions in progress",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_player_sessions_total",
		Help: "Total number of playback sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_player_session_duration_seconds",
		Help:    "Duration of playback sessions from open to cleanup",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// Latency from session start until the first audio frame reached the buffer
	firstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_player_first_audio_seconds",
		Help:    "Time to first audio frame in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Stream metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_player_frames_total",
		Help: "Inbound synthesis frames by type",
	}, []string{"type"}) // type: audio, control

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_player_audio_bytes_total",
		Help: "Decoded audio bytes written to temp buffers",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_player_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_player_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_player_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single playback session
type Metrics struct {
	sessionID  string
	startTime  time.Time
	firstAudio time.Time
	ended      bool
	mu         sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session. Only the first call counts.
func (m *Metrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFirstAudio records the time to first audio; later calls are ignored
func (m *Metrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.firstAudio.IsZero() {
		return
	}
	m.firstAudio = time.Now()
	firstAudioLatency.Observe(m.firstAudio.Sub(m.startTime).Seconds())
}

// RecordFrame records an inbound frame and its decoded audio size
func (m *Metrics) RecordFrame(decodedBytes int) {
	if decodedBytes == 0 {
		framesTotal.WithLabelValues("control").Inc()
		return
	}
	framesTotal.WithLabelValues("audio").Inc()
	audioBytes.Add(float64(decodedBytes))
}

// RecordError records an error
func (m *Metrics) RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
