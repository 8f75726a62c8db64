package crawler

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

type recordAppender interface {
	Append(rec PaperRecord)
}

// YearCrawler walks one year's index pages and fans out detail fetches.
type YearCrawler struct {
	fetcher   Fetcher
	extractor Extractor
	index     IndexParser
	sink      recordAppender
	global    *semaphore.Weighted
	cfg       CrawlConfig
	emitter   progress.Emitter
	runID     [16]byte
	logger    *zap.Logger
}

// YearCrawlerDeps groups the collaborators of a YearCrawler.
type YearCrawlerDeps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Index     IndexParser
	Sink      *ResultSink
	// Global is the run-wide fetch budget; nil means only the per-year cap applies.
	Global  *semaphore.Weighted
	Emitter progress.Emitter
	RunID   [16]byte
	Logger  *zap.Logger
}

// NewYearCrawler wires a YearCrawler.
func NewYearCrawler(cfg CrawlConfig, deps YearCrawlerDeps) *YearCrawler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &YearCrawler{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		index:     deps.Index,
		global:    deps.Global,
		cfg:       cfg,
		emitter:   deps.Emitter,
		runID:     deps.RunID,
		logger:    logger,
	}
	if deps.Sink != nil {
		c.sink = deps.Sink
	}
	return c
}

type detailResult struct {
	url  string
	page Page
	err  error
}

// Crawl harvests year. prog receives counter updates as results land and may
// be read concurrently. A failed index page returns *YearCrawlError; a
// canceled ctx returns the records accepted so far with an error wrapping
// ErrCanceled.
func (c *YearCrawler) Crawl(ctx context.Context, year int, prog *CrawlProgress) (YearResult, error) {
	if prog == nil {
		prog = NewCrawlProgress(year)
	}
	start := time.Now()
	logger := c.logger.With(zap.Int("year", year))

	detailURLs, err := c.collectDetailURLs(ctx, year, prog, logger)
	if err != nil {
		result := YearResult{Year: year, Progress: prog.Snapshot(), Elapsed: time.Since(start)}
		if errors.Is(err, ErrCanceled) {
			return result, err
		}
		return result, &YearCrawlError{Year: year, Err: err}
	}
	logger.Info("index collected", zap.Int("detail_pages", len(detailURLs)))

	admission := NewAdmission(year)
	results := make(chan detailResult)
	var accepted []PaperRecord
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			accepted = append(accepted, c.handleDetail(year, res, admission, prog, logger)...)
		}
	}()

	var g errgroup.Group
	g.SetLimit(c.cfg.YearCap())
	for _, detailURL := range detailURLs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			page, err := c.fetch(ctx, detailURL)
			results <- detailResult{url: detailURL, page: page, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done

	result := YearResult{
		Year:     year,
		Records:  accepted,
		Progress: prog.Snapshot(),
		Elapsed:  time.Since(start),
	}
	if ctx.Err() != nil {
		return result, canceledError(ctx, c.cfg.IndexURLFor(year))
	}
	return result, nil
}

// collectDetailURLs follows index pagination and returns distinct detail URLs
// in first-seen order.
func (c *YearCrawler) collectDetailURLs(
	ctx context.Context,
	year int,
	prog *CrawlProgress,
	logger *zap.Logger,
) ([]string, error) {
	visited := newConcurrentVisitTracker()
	details := newConcurrentVisitTracker()
	var out []string

	type pending struct {
		url         string
		speculative bool
	}
	queue := []pending{{url: c.cfg.IndexURLFor(year)}}
	fetched := 0
	triedDayAll := false

	for len(queue) > 0 && fetched < c.cfg.MaxIndexPages {
		next := queue[0]
		queue = queue[1:]
		normalized, err := NormalizeURL(next.url)
		if err != nil {
			logger.Debug("skipping malformed index link", zap.String("url", next.url), zap.Error(err))
			continue
		}
		if !visited.MarkIfNew(normalized) {
			continue
		}

		page, err := c.fetch(ctx, normalized)
		c.emitFetch(year, normalized, page, err)
		if err != nil {
			if next.speculative && !errors.Is(err, ErrCanceled) {
				logger.Debug("fallback index page unavailable", zap.String("url", normalized), zap.Error(err))
				continue
			}
			return nil, err
		}
		fetched++
		prog.addPage(true, page.FromCache)

		idx, err := c.index.ParseIndex(page.Body, page.URL, year)
		if err != nil {
			prog.addExtractFailure()
			logger.Warn("index page parse failed", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		for _, d := range idx.DetailURLs {
			nd, err := NormalizeURL(d)
			if err != nil {
				continue
			}
			if details.MarkIfNew(nd) {
				out = append(out, nd)
			}
		}
		for _, n := range idx.NextURLs {
			queue = append(queue, pending{url: n})
		}

		if fetched == 1 && len(out) == 0 && len(queue) == 0 && !triedDayAll {
			triedDayAll = true
			if dayAll, err := WithQuery(normalized, "day", "all"); err == nil {
				queue = append(queue, pending{url: dayAll, speculative: true})
			}
		}
	}
	if len(queue) > 0 {
		logger.Warn("index page ceiling reached", zap.Int("max_index_pages", c.cfg.MaxIndexPages))
	}
	return out, nil
}

// fetch holds one slot of the global budget for the duration of the call.
func (c *YearCrawler) fetch(ctx context.Context, rawURL string) (Page, error) {
	if c.global != nil {
		if err := c.global.Acquire(ctx, 1); err != nil {
			return Page{}, canceledError(ctx, rawURL)
		}
		defer c.global.Release(1)
	}
	return c.fetcher.Fetch(ctx, rawURL)
}

// handleDetail runs on the single aggregator goroutine.
func (c *YearCrawler) handleDetail(
	year int,
	res detailResult,
	admission *Admission,
	prog *CrawlProgress,
	logger *zap.Logger,
) []PaperRecord {
	if errors.Is(res.err, ErrCanceled) {
		return nil
	}
	c.emitFetch(year, res.url, res.page, res.err)
	if res.err != nil {
		prog.addError()
		logger.Warn("detail page fetch failed", zap.String("url", res.url), zap.Error(res.err))
		return nil
	}
	prog.addPage(false, res.page.FromCache)

	candidates, err := c.extractor.Extract(res.page.Body, year, res.page.URL)
	if err != nil {
		prog.addExtractFailure()
		logger.Info("extraction failed", zap.String("url", res.page.URL), zap.Error(err))
		return nil
	}
	prog.addExtracted(len(candidates))

	var accepted []PaperRecord
	for _, rec := range candidates {
		err := admission.Admit(rec)
		switch {
		case err == nil:
			prog.addAccepted()
			if c.sink != nil {
				c.sink.Append(rec)
			}
			accepted = append(accepted, rec)
			c.emit(progress.Event{Stage: progress.StageRecordAccepted, Year: year, URL: rec.SourceURL})
		case errors.Is(err, ErrDuplicate):
			prog.addDuplicate()
			logger.Info("duplicate record rejected", zap.String("url", rec.SourceURL))
			c.emit(progress.Event{Stage: progress.StageRecordRejected, Year: year, URL: rec.SourceURL, Note: "duplicate"})
		default:
			prog.addRejected()
			logger.Debug("invalid record rejected", zap.String("url", rec.SourceURL), zap.Error(err))
			c.emit(progress.Event{Stage: progress.StageRecordRejected, Year: year, URL: rec.SourceURL, Note: err.Error()})
		}
	}
	return accepted
}

func (c *YearCrawler) emitFetch(year int, rawURL string, page Page, err error) {
	if c.emitter == nil {
		return
	}
	evt := progress.Event{
		Stage: progress.StageFetchDone,
		Year:  year,
		URL:   rawURL,
		Bytes: int64(len(page.Body)),
		Dur:   page.Duration,
	}
	if u, perr := url.Parse(rawURL); perr == nil {
		evt.Site = u.Hostname()
	}
	var netErr *NetworkError
	switch {
	case err == nil && page.FromCache:
		evt.StatusClass = progress.StatusCache
	case err == nil:
		evt.StatusClass = progress.ClassifyStatus(page.StatusCode)
	case errors.As(err, &netErr):
		evt.StatusClass = progress.ClassifyStatus(netErr.StatusCode)
		evt.Note = string(netErr.Kind)
	default:
		evt.StatusClass = progress.StatusOther
		evt.Note = err.Error()
	}
	c.emit(evt)
}

func (c *YearCrawler) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	evt.RunID = c.runID
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	c.emitter.Emit(evt)
}
