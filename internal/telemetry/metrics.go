// Package telemetry defines the Prometheus metrics of the content server and
// the editor session.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "readback"

// Server holds content server metrics.
type Server struct {
	ContentLoads   *prometheus.CounterVec
	ContentSaves   *prometheus.CounterVec
	ContentItems   prometheus.Gauge
	EventsActive   prometheus.Gauge
	RequestSeconds *prometheus.HistogramVec
}

// NewServer creates and registers server metrics. A nil registerer uses the
// default registry.
func NewServer(reg prometheus.Registerer) *Server {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Server{
		ContentLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "content_loads_total",
			Help:      "Content loads by result.",
		}, []string{"result"}),
		ContentSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "content_saves_total",
			Help:      "Content saves by result (saved, unchanged, invalid, error).",
		}, []string{"result"}),
		ContentItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "content_items",
			Help:      "Number of items in the stored document.",
		}),
		EventsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "event_streams_active",
			Help:      "Open change event streams.",
		}),
		RequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Editor holds editor session metrics.
type Editor struct {
	Polls            *prometheus.CounterVec
	Pushes           *prometheus.CounterVec
	PlaybackSpoken   prometheus.Counter
	PlaybackDeleted  prometheus.Counter
	PlaybackMissed   prometheus.Counter
	PlaybackSessions *prometheus.CounterVec
}

// NewEditor creates and registers editor metrics.
func NewEditor(reg prometheus.Registerer) *Editor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Editor{
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "sync_polls_total",
			Help:      "Sync polls by outcome (unchanged, adopted, deferred, skipped, error).",
		}, []string{"outcome"}),
		Pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "pushes_total",
			Help:      "Content pushes by result.",
		}, []string{"result"}),
		PlaybackSpoken: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "playback_spoken_total",
			Help:      "Items handed to the speech capability.",
		}),
		PlaybackDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "playback_deleted_total",
			Help:      "Items removed after being spoken.",
		}),
		PlaybackMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "playback_missed_total",
			Help:      "Spoken items that were already gone when their deletion came due.",
		}),
		PlaybackSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "editor",
			Name:      "playback_sessions_total",
			Help:      "Playback sessions by how they ended (completed, stopped).",
		}, []string{"end"}),
	}
}
