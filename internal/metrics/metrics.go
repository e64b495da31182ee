// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxin/internal/domain"
)

const namespace = "voxin"

// Metrics holds all Prometheus metrics for the daemon. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Toggle metrics
	TogglesTotal   *prometheus.CounterVec
	TogglesRefused *prometheus.CounterVec

	// Recording metrics
	RecordingsTotal   prometheus.Counter
	RecordingsEmpty   prometheus.Counter
	RecordingDuration prometheus.Histogram
	CaptureErrors     prometheus.Counter

	// Transcription metrics
	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram

	// Worker metrics
	WorkerState    *prometheus.GaugeVec
	WorkerRestarts prometheus.Counter

	// Hotkey metrics
	HotkeyDevices prometheus.Gauge
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TogglesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Toggle requests by source",
		}, []string{"source"}),
		TogglesRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_refused_total",
			Help:      "Toggle requests refused by admission control",
		}, []string{"reason"}),
		RecordingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Recordings started",
		}),
		RecordingsEmpty: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_empty_total",
			Help:      "Recordings stopped without any captured frame",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Captured audio length per recording",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		CaptureErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Audio source read failures during recording",
		}),
		TranscriptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription requests by outcome",
		}, []string{"result"}),
		TranscriptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Time from request write to response line",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		WorkerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_state",
			Help:      "1 for the current recognizer state",
		}, []string{"state"}),
		WorkerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Automatic recognizer respawn attempts",
		}),
		HotkeyDevices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hotkey_devices",
			Help:      "Input devices currently watched for the hotkey",
		}),
	}
}

var workerStates = []domain.WorkerState{
	domain.WorkerStateStarting,
	domain.WorkerStateReady,
	domain.WorkerStateBusy,
	domain.WorkerStateDead,
	domain.WorkerStateStopped,
}

// Toggle counts a toggle request from source.
func (m *Metrics) Toggle(source string) {
	if m == nil {
		return
	}
	m.TogglesTotal.WithLabelValues(source).Inc()
}

// Refused counts a toggle rejected by admission control.
func (m *Metrics) Refused(reason string) {
	if m == nil {
		return
	}
	m.TogglesRefused.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsTotal.Inc()
}

// RecordingStopped observes the captured buffer.
func (m *Metrics) RecordingStopped(buf domain.RecordingBuffer) {
	if m == nil {
		return
	}
	if buf.Empty() {
		m.RecordingsEmpty.Inc()
		return
	}
	m.RecordingDuration.Observe(buf.Duration().Seconds())
}

func (m *Metrics) CaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// Transcription records one request outcome and its latency in seconds.
func (m *Metrics) Transcription(result string, seconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.TranscriptionLatency.Observe(seconds)
	}
}

// SetWorkerState marks state as current.
func (m *Metrics) SetWorkerState(state domain.WorkerState) {
	if m == nil {
		return
	}
	for _, s := range workerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.WorkerState.WithLabelValues(string(s)).Set(value)
	}
}

func (m *Metrics) WorkerRestarted() {
	if m == nil {
		return
	}
	m.WorkerRestarts.Inc()
}

func (m *Metrics) SetHotkeyDevices(n int) {
	if m == nil {
		return
	}
	m.HotkeyDevices.Set(float64(n))
}
