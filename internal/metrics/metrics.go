// Package metrics exposes Prometheus collectors for the playback engine.
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/media"
)

// Metrics holds all playback collectors.
type Metrics struct {
	// Clock metrics
	Ticks         prometheus.Counter
	PlaybackState prometheus.Gauge
	PlaybackSpeed prometheus.Gauge
	Seeks         prometheus.Counter

	// Channel metrics
	Decisions   *prometheus.CounterVec
	DriftAbs    *prometheus.HistogramVec
	BufferFill  *prometheus.GaugeVec
	Recoveries  *prometheus.CounterVec
	FailedChans *prometheus.CounterVec

	// Load metrics
	Loads        prometheus.Counter
	LoadErrors   prometheus.Counter
	LoadDuration prometheus.Histogram
}

// New creates all collectors and registers them on reg. A nil reg creates
// unregistered collectors, which is convenient for tests that only need a
// working *Metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "blackbox_clock_ticks_total",
			Help: "Total number of master clock ticks while playing",
		}),
		PlaybackState: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackbox_playback_state",
			Help: "Current playback state (0 stopped, 1 paused, 2 playing)",
		}),
		PlaybackSpeed: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackbox_playback_speed",
			Help: "Current playback speed multiplier",
		}),
		Seeks: f.NewCounter(prometheus.CounterOpts{
			Name: "blackbox_seeks_total",
			Help: "Total number of seeks",
		}),

		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blackbox_drift_decisions_total",
				Help: "Drift corrector decisions by channel and reason",
			},
			[]string{"position", "reason"},
		),
		DriftAbs: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blackbox_channel_drift_seconds",
				Help:    "Absolute offset between a channel frame and the master clock",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~0.5s
			},
			[]string{"position"},
		),
		BufferFill: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blackbox_channel_buffer_fill_ratio",
				Help: "Channel buffer fill fraction",
			},
			[]string{"position"},
		),
		Recoveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blackbox_channel_recoveries_total",
				Help: "Stall watchdog recovery reseeks by channel",
			},
			[]string{"position"},
		),
		FailedChans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blackbox_channel_failures_total",
				Help: "Channels given up on by the stall watchdog",
			},
			[]string{"position"},
		),

		Loads: f.NewCounter(prometheus.CounterOpts{
			Name: "blackbox_loads_total",
			Help: "Total number of successful video file loads",
		}),
		LoadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "blackbox_load_errors_total",
			Help: "Total number of failed video file loads",
		}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blackbox_load_duration_seconds",
			Help:    "Time to open, initialize and prime all channels",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
	}
}

// RecordTick records one clock tick.
func (m *Metrics) RecordTick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

// RecordState records a playback state transition.
func (m *Metrics) RecordState(s media.PlaybackState) {
	if m == nil {
		return
	}
	m.PlaybackState.Set(float64(s))
}

// RecordSpeed records the playback speed.
func (m *Metrics) RecordSpeed(speed float64) {
	if m == nil {
		return
	}
	m.PlaybackSpeed.Set(speed)
}

// RecordSeek records a seek.
func (m *Metrics) RecordSeek() {
	if m == nil {
		return
	}
	m.Seeks.Inc()
}

// RecordDecision records one drift corrector decision.
func (m *Metrics) RecordDecision(d drift.Decision) {
	if m == nil {
		return
	}
	pos := d.Position.String()
	m.Decisions.WithLabelValues(pos, d.Reason.String()).Inc()
	if d.Reason == drift.ReasonAccepted || d.Reason == drift.ReasonDrift {
		abs := d.Drift
		if abs < 0 {
			abs = -abs
		}
		m.DriftAbs.WithLabelValues(pos).Observe(abs.Seconds())
	}
}

// RecordBuffer records a channel's fill level.
func (m *Metrics) RecordBuffer(pos media.ChannelPosition, st media.BufferStatus) {
	if m == nil {
		return
	}
	m.BufferFill.WithLabelValues(pos.String()).Set(st.Fill)
}

// RecordRecovery records a watchdog reseek.
func (m *Metrics) RecordRecovery(pos media.ChannelPosition) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(pos.String()).Inc()
}

// RecordChannelFailed records a channel excluded by the watchdog.
func (m *Metrics) RecordChannelFailed(pos media.ChannelPosition) {
	if m == nil {
		return
	}
	m.FailedChans.WithLabelValues(pos.String()).Inc()
}

// RecordLoad records a load attempt and how long it took.
func (m *Metrics) RecordLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LoadErrors.Inc()
		return
	}
	m.Loads.Inc()
	m.LoadDuration.Observe(d.Seconds())
}
