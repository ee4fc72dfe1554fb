package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics содержит Prometheus коллекторы классификатора и декодера.
// Все методы безопасны для nil получателя.
type Metrics struct {
	WindowsClassified prometheus.Counter
	WindowErrors      prometheus.Counter
	DecodeFailures    prometheus.Counter
	LastTone          prometheus.Gauge
	ClassifyLatency   prometheus.Histogram
}

// New создает коллекторы и регистрирует их в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WindowsClassified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voter_tone_windows_total",
			Help: "Audio windows classified and appended to the audio stream.",
		}),
		WindowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voter_tone_window_errors_total",
			Help: "Classifier iterations that failed and were skipped.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voter_state_decode_failures_total",
			Help: "State lines that could not be decoded in either grammar.",
		}),
		LastTone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voter_tone_last_hz",
			Help: "Tone frequency of the last classified window.",
		}),
		ClassifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voter_tone_classify_seconds",
			Help:    "Time spent classifying one window, excluding the audio stream append.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	reg.MustRegister(m.WindowsClassified, m.WindowErrors, m.DecodeFailures, m.LastTone, m.ClassifyLatency)
	return m
}

func (m *Metrics) ObserveWindow(tone, seconds float64) {
	if m == nil {
		return
	}
	m.WindowsClassified.Inc()
	m.LastTone.Set(tone)
	m.ClassifyLatency.Observe(seconds)
}

func (m *Metrics) IncWindowError() {
	if m == nil {
		return
	}
	m.WindowErrors.Inc()
}

func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}
