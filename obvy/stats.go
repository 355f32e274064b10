package iqscope

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iqscope"

// StatsInternal is the private prometheus registry served on /metrics
type StatsInternal struct {
	Registry     *prometheus.Registry
	WWWCount     *prometheus.CounterVec // HTTP responses by code and method
	FrameTimer   prometheus.Histogram   // consumer time per spectrum frame
	MonitorTimer *prometheus.HistogramVec
}

func NewStatsInternal() *StatsInternal {
	reg := prometheus.NewRegistry()

	stats := &StatsInternal{
		Registry: reg,
		WWWCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses served by the API",
		}, []string{"code", "method"}),
		FrameTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_seconds",
			Help:      "Time to acquire and analyse one spectrum frame",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		MonitorTimer: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_sample_seconds",
			Help:      "Time taken by one monitor sample",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"monitor"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		stats.WWWCount,
		stats.FrameTimer,
		stats.MonitorTimer,
	)
	return stats
}

// Handler serves the registry in the prometheus text format
func (s *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})
}

func (s *StatsInternal) RecWWW(code, method string) {
	s.WWWCount.WithLabelValues(code, method).Inc()
}

func (s *StatsInternal) RecFrameTimer(seconds float64) {
	s.FrameTimer.Observe(seconds)
}

func (s *StatsInternal) RecMonitorTimer(monitor string, seconds float64) {
	s.MonitorTimer.WithLabelValues(monitor).Observe(seconds)
}

// WatchCounter exports a monotonically increasing value read at scrape time
func (s *StatsInternal) WatchCounter(name, help string, read func() float64) {
	s.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, read))
}

// WatchGauge exports a value that can go up and down, read at scrape time
func (s *StatsInternal) WatchGauge(name, help string, read func() float64) {
	s.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, read))
}
