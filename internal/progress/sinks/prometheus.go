package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

// PrometheusSink exports harvest progress: runs, years, fetches and record
// admission outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	yearsCompleted *prometheus.CounterVec
	yearsRunning   prometheus.Gauge
	yearRuntime    *prometheus.HistogramVec

	recordsAccepted *prometheus.CounterVec
	recordsRejected *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	runs  *tracker[[16]byte]
	years *tracker[yearKey]
}

type yearKey struct {
	run  [16]byte
	year int
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Harvest runs completed partitioned by outcome.",
		}, []string{"outcome"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_running",
			Help: "Current number of running harvests.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"outcome"}),
		yearsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_years_completed_total",
			Help: "Years finished partitioned by outcome.",
		}, []string{"outcome"}),
		yearsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_years_running",
			Help: "Years currently being crawled.",
		}),
		yearRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_year_runtime_seconds",
			Help:    "Wall time per finished year.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"outcome"}),
		recordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_records_accepted_total",
			Help: "Paper records admitted, by conference year.",
		}, []string{"year"}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_records_rejected_total",
			Help: "Paper records refused, by reason (duplicate or invalid).",
		}, []string{"reason"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status_class"}),
		runs:  newTracker[[16]byte](),
		years: newTracker[yearKey](),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.yearsCompleted,
		s.yearsRunning,
		s.yearRuntime,
		s.recordsAccepted,
		s.recordsRejected,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
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
		if s.runs.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		outcome := outcomeLabel(evt.Outcome)
		s.runsCompleted.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
		if s.runs.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageYearStart:
		if s.years.start(yearKey{evt.RunID, evt.Year}) {
			s.yearsRunning.Inc()
		}
	case progress.StageYearDone, progress.StageYearError:
		outcome := outcomeLabel(evt.Outcome)
		s.yearsCompleted.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.yearRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
		if s.years.complete(yearKey{evt.RunID, evt.Year}) {
			s.yearsRunning.Dec()
		}
	case progress.StageRecordAccepted:
		s.recordsAccepted.WithLabelValues(strconv.Itoa(evt.Year)).Inc()
	case progress.StageRecordRejected:
		reason := "invalid"
		if evt.Note == "duplicate" {
			reason = "duplicate"
		}
		s.recordsRejected.WithLabelValues(reason).Inc()
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

func outcomeLabel(o progress.Outcome) string {
	if o == "" {
		return string(progress.OutcomeCompleted)
	}
	return string(o)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type tracker[K comparable] struct {
	mu      sync.Mutex
	running map[K]struct{}
}

func newTracker[K comparable]() *tracker[K] {
	return &tracker[K]{running: make(map[K]struct{})}
}

func (t *tracker[K]) start(id K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *tracker[K]) complete(id K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
