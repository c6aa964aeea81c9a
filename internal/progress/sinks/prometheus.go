package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// PrometheusSink exports run and page progress via Prometheus.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	searches *prometheus.CounterVec
	pages    *prometheus.CounterVec
	details  *prometheus.CounterVec
	summary  prometheus.Counter

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_searches_total",
			Help: "Searches completed partitioned by result.",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_listing_pages_total",
			Help: "Listing pages processed partitioned by result.",
		}, []string{"result"}),
		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_detail_pages_total",
			Help: "Detail pages processed partitioned by result.",
		}, []string{"result"}),
		summary: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_summaries_extracted_total",
			Help: "Summary records extracted from listing pages.",
		}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runRuntime,
		s.searches, s.pages, s.details, s.summary,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.track(evt.RunID, true) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone, progress.StageRunError:
		result := "success"
		if evt.Stage == progress.StageRunError {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.track(evt.RunID, false) {
			s.runsRunning.Dec()
		}
	case progress.StageSearchDone:
		s.searches.WithLabelValues("success").Inc()
	case progress.StageSearchError:
		s.searches.WithLabelValues("error").Inc()
	case progress.StagePageDone:
		s.pages.WithLabelValues("success").Inc()
		s.summary.Add(float64(evt.Records))
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	case progress.StageDetailDone:
		s.details.WithLabelValues("success").Inc()
	case progress.StageDetailError:
		s.details.WithLabelValues("error").Inc()
	}
}

// track records a run start or completion and reports whether state changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	if start {
		if ok {
			return false
		}
		s.running[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, runID)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
