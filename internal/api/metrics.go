package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/queue"
)

const namespace = "voiceclone"

// Metrics exposes counters and gauges for the service on its own
// Prometheus registry. A nil *Metrics ignores every observation.
type Metrics struct {
	registry *prometheus.Registry

	voiceMutations      *prometheus.CounterVec
	recordingVerdicts   *prometheus.CounterVec
	synthesisDuration   prometheus.Histogram
	synthesisFailures   *prometheus.CounterVec
	synthesisRejections prometheus.Counter
}

// NewMetrics registers the service metrics. stats, when non-nil, backs the
// job queue gauges.
func NewMetrics(stats func() queue.Stats) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		voiceMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_mutations_total",
			Help:      "Voice registry mutations by operation and result.",
		}, []string{"op", "result"}),
		recordingVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_verdicts_total",
			Help:      "Recording quality verdicts by reason.",
		}, []string{"reason"}),
		synthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Wall-clock time of engine synthesis calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 240},
		}),
		synthesisFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_failures_total",
			Help:      "Failed engine synthesis calls by cause.",
		}, []string{"cause"}),
		synthesisRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_rejected_total",
			Help:      "Generate calls rejected because another synthesis was running.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.voiceMutations,
		m.recordingVerdicts,
		m.synthesisDuration,
		m.synthesisFailures,
		m.synthesisRejections,
	)

	if stats != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "synthesis_active",
				Help:      "Synthesis jobs currently running.",
			}, func() float64 { return float64(stats().Active) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "synthesis_queued",
				Help:      "Synthesis jobs waiting for a worker.",
			}, func() float64 { return float64(stats().Queued) }),
		)
	}

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// VoiceMutation counts a create, update or delete.
func (m *Metrics) VoiceMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = errs.KindOf(err).String()
	}
	m.voiceMutations.WithLabelValues(op, result).Inc()
}

// RecordingVerdict counts an analyzer verdict.
func (m *Metrics) RecordingVerdict(v audio.Verdict) {
	if m == nil {
		return
	}
	m.recordingVerdicts.WithLabelValues(string(v.Reason)).Inc()
}

// SynthesisRejected counts a generate call turned away by the queue.
func (m *Metrics) SynthesisRejected() {
	if m == nil {
		return
	}
	m.synthesisRejections.Inc()
}

// ObserveSynthesis records one engine call.
func (m *Metrics) ObserveSynthesis(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.synthesisDuration.Observe(d.Seconds())
	if err != nil {
		m.synthesisFailures.WithLabelValues(failureCause(err)).Inc()
	}
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, backend.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, backend.ErrBackendUnavailable):
		return "unavailable"
	case backend.IsBackendError(err):
		return "engine"
	default:
		return "other"
	}
}
