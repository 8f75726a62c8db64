package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

// Live year states reported while a run is in progress.
const (
	YearPending YearStatus = "pending"
	YearRunning YearStatus = "running"
)

// Orchestrator runs YearCrawlers across a year range under one global fetch budget.
type Orchestrator struct {
	cfg       CrawlConfig
	fetcher   Fetcher
	extractor Extractor
	index     IndexParser
	blobs     BlobStore
	sinkOpts  []SinkOption
	ids       IDGenerator
	emitter   progress.Emitter
	logger    *zap.Logger

	mu     sync.RWMutex
	status RunStatus
	live   map[int]*CrawlProgress
}

// OrchestratorDeps groups the collaborators shared by every run.
type OrchestratorDeps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Index     IndexParser
	// Blobs receives per-year snapshots; nil keeps results in memory only.
	Blobs       BlobStore
	SinkOptions []SinkOption
	IDs         IDGenerator
	Emitter     progress.Emitter
	Logger      *zap.Logger
}

// RunStatus is the live view of the current or last run.
type RunStatus struct {
	RunID     string     `json:"run_id"`
	StartedAt time.Time  `json:"started_at"`
	Running   bool       `json:"running"`
	Years     []LiveYear `json:"years"`
}

// LiveYear is one year's entry in RunStatus.
type LiveYear struct {
	Year     int              `json:"year"`
	Status   YearStatus       `json:"status"`
	Progress ProgressSnapshot `json:"progress"`
	Error    string           `json:"error,omitempty"`
}

// NewOrchestrator validates cfg and wires an Orchestrator.
func NewOrchestrator(cfg CrawlConfig, deps OrchestratorDeps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if deps.Fetcher == nil || deps.Extractor == nil || deps.Index == nil {
		return nil, errors.New("fetcher, extractor and index parser are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		index:     deps.Index,
		blobs:     deps.Blobs,
		sinkOpts:  deps.SinkOptions,
		ids:       deps.IDs,
		emitter:   deps.Emitter,
		logger:    logger,
		live:      make(map[int]*CrawlProgress),
	}, nil
}

// Validate checks the year range and mode of a run request.
func (r RunRequest) Validate() error {
	if r.StartYear < MinYear || r.EndYear > MaxYear {
		return fmt.Errorf("years must be within %d-%d, got %d-%d", MinYear, MaxYear, r.StartYear, r.EndYear)
	}
	if r.StartYear > r.EndYear {
		return fmt.Errorf("start year %d is after end year %d", r.StartYear, r.EndYear)
	}
	switch r.Mode {
	case RunSequential, RunParallel, "":
	default:
		return fmt.Errorf("unknown run mode %q", r.Mode)
	}
	return nil
}

// Run harvests every year in req. On cancellation it returns whatever was
// accepted so far together with an error wrapping ErrCanceled; snapshots
// already flushed stay on disk.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if err := req.Validate(); err != nil {
		return RunResult{}, err
	}
	if req.Mode == "" {
		req.Mode = RunParallel
	}
	runID, err := o.newRunID()
	if err != nil {
		return RunResult{}, err
	}
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", runID))
	years := make([]int, 0, req.EndYear-req.StartYear+1)
	for y := req.StartYear; y <= req.EndYear; y++ {
		years = append(years, y)
	}
	o.begin(runID, start, years)

	sink := NewResultSink(runID, o.cfg.PartialPrefix, o.blobs, append([]SinkOption{WithSinkLogger(logger)}, o.sinkOpts...)...)
	global := semaphore.NewWeighted(int64(o.cfg.GlobalConcurrency))
	runBytes := progress.ParseRunID(runID)
	yc := NewYearCrawler(o.cfg, YearCrawlerDeps{
		Fetcher:   o.fetcher,
		Extractor: o.extractor,
		Index:     o.index,
		Sink:      sink,
		Global:    global,
		Emitter:   o.emitter,
		RunID:     runBytes,
		Logger:    logger,
	})
	o.emit(runBytes, progress.Event{Stage: progress.StageRunStart})
	logger.Info("harvest started",
		zap.Int("start_year", req.StartYear),
		zap.Int("end_year", req.EndYear),
		zap.String("mode", string(req.Mode)),
		zap.Int("global_concurrency", o.cfg.GlobalConcurrency),
		zap.Int("per_year_concurrency", o.cfg.YearCap()),
	)

	var (
		mu        sync.Mutex
		summaries []YearSummary
	)
	record := func(s YearSummary) {
		mu.Lock()
		summaries = append(summaries, s)
		mu.Unlock()
	}
	runYear := func(year int) {
		record(o.runYear(ctx, yc, sink, runBytes, year, logger))
	}

	switch req.Mode {
	case RunSequential:
		for _, year := range years {
			if ctx.Err() != nil {
				record(o.skipYear(year))
				continue
			}
			runYear(year)
		}
	default:
		var g errgroup.Group
		g.SetLimit(min(len(years), o.cfg.GlobalConcurrency))
		for _, year := range years {
			g.Go(func() error {
				if ctx.Err() != nil {
					record(o.skipYear(year))
					return nil
				}
				runYear(year)
				return nil
			})
		}
		_ = g.Wait()
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Year < summaries[j].Year })
	result := RunResult{
		RunID:   runID,
		Records: sink.Finalize(),
		Years:   summaries,
		Elapsed: time.Since(start),
	}
	o.end()
	done := progress.Event{
		Stage:   progress.StageRunDone,
		Records: int64(len(result.Records)),
		Dur:     result.Elapsed,
		Outcome: progress.OutcomeCompleted,
	}
	if failed := result.FailedYears(); len(failed) > 0 {
		done.Note = fmt.Sprintf("failed years: %v", failed)
	}
	if ctx.Err() != nil {
		done.Outcome = progress.OutcomeCanceled
	}
	o.emit(runBytes, done)
	logger.Info("harvest finished",
		zap.Int("records", len(result.Records)),
		zap.Ints("failed_years", result.FailedYears()),
		zap.Duration("elapsed", result.Elapsed),
	)
	if ctx.Err() != nil {
		return result, fmt.Errorf("run %s: %w", runID, errors.Join(ErrCanceled, ctx.Err()))
	}
	return result, nil
}

func (o *Orchestrator) runYear(
	ctx context.Context,
	yc *YearCrawler,
	sink *ResultSink,
	runID [16]byte,
	year int,
	logger *zap.Logger,
) YearSummary {
	prog := o.track(year)
	o.emit(runID, progress.Event{Stage: progress.StageYearStart, Year: year})

	res, err := yc.Crawl(ctx, year, prog)
	summary := YearSummary{
		Year:     year,
		Records:  len(res.Records),
		Progress: res.Progress,
		Elapsed:  res.Elapsed,
	}
	switch {
	case errors.Is(err, ErrCanceled) || ctx.Err() != nil:
		summary.Status = YearCanceled
		summary.Error = "canceled before completion"
		logger.Warn("year canceled", zap.Int("year", year), zap.Int("records_unflushed", summary.Records))
	case err != nil:
		summary.Status = YearFailed
		summary.Error = err.Error()
		logger.Error("year failed", zap.Int("year", year), zap.Error(err))
	default:
		summary.Status = YearCompleted
		uri, ferr := sink.FlushPartial(ctx, year)
		if ferr != nil {
			summary.Error = ferr.Error()
			logger.Error("year snapshot failed", zap.Int("year", year), zap.Error(ferr))
		}
		summary.SnapshotURI = uri
	}

	stage := progress.StageYearDone
	if summary.Status != YearCompleted {
		stage = progress.StageYearError
	}
	o.emit(runID, progress.Event{
		Stage:   stage,
		Year:    year,
		Records: int64(summary.Records),
		Errors:  summary.Progress.Errors,
		Dur:     summary.Elapsed,
		Outcome: progress.Outcome(summary.Status),
		Note:    summary.Error,
	})
	o.finish(summary)
	return summary
}

func (o *Orchestrator) skipYear(year int) YearSummary {
	s := YearSummary{Year: year, Status: YearCanceled, Error: "canceled before start"}
	o.finish(s)
	return s
}

func (o *Orchestrator) newRunID() (string, error) {
	if o.ids == nil {
		return uuid.NewString(), nil
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (o *Orchestrator) emit(runID [16]byte, evt progress.Event) {
	if o.emitter == nil {
		return
	}
	evt.RunID = runID
	evt.TS = time.Now().UTC()
	o.emitter.Emit(evt)
}

func (o *Orchestrator) begin(runID string, start time.Time, years []int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live = make(map[int]*CrawlProgress, len(years))
	o.status = RunStatus{RunID: runID, StartedAt: start, Running: true}
	for _, y := range years {
		o.status.Years = append(o.status.Years, LiveYear{Year: y, Status: YearPending})
	}
}

func (o *Orchestrator) track(year int) *CrawlProgress {
	prog := NewCrawlProgress(year)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live[year] = prog
	o.setYear(LiveYear{Year: year, Status: YearRunning})
	return prog
}

func (o *Orchestrator) finish(s YearSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.live, s.Year)
	o.setYear(LiveYear{Year: s.Year, Status: s.Status, Progress: s.Progress, Error: s.Error})
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = false
}

// setYear requires o.mu.
func (o *Orchestrator) setYear(y LiveYear) {
	for i := range o.status.Years {
		if o.status.Years[i].Year == y.Year {
			o.status.Years[i] = y
			return
		}
	}
}

// Status returns a snapshot of the current or most recent run.
func (o *Orchestrator) Status() RunStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := o.status
	out.Years = append([]LiveYear(nil), o.status.Years...)
	for i, y := range out.Years {
		if prog, ok := o.live[y.Year]; ok {
			out.Years[i].Progress = prog.Snapshot()
		}
	}
	return out
}

// YearProgress returns the live entry for year.
func (o *Orchestrator) YearProgress(year int) (LiveYear, bool) {
	for _, y := range o.Status().Years {
		if y.Year == year {
			return y, true
		}
	}
	return LiveYear{}, false
}
