package crawler

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ResultSink accumulates accepted records per year, writes per-year
// snapshots, and produces the final ordered collection.
type ResultSink struct {
	mu      sync.Mutex
	years   map[int][]PaperRecord
	flushed map[int]string

	runID     string
	prefix    string
	topic     string
	blobs     BlobStore
	records   RecordStore
	publisher Publisher
	clock     Clock
	logger    *zap.Logger
}

// SinkOption customizes a ResultSink.
type SinkOption func(*ResultSink)

// WithRecordStore mirrors every flushed year into store.
func WithRecordStore(store RecordStore) SinkOption {
	return func(s *ResultSink) {
		s.records = store
	}
}

// WithPublisher announces every flushed year on topic.
func WithPublisher(pub Publisher, topic string) SinkOption {
	return func(s *ResultSink) {
		s.publisher = pub
		s.topic = topic
	}
}

// WithSinkClock overrides the clock stamped on notifications.
func WithSinkClock(clock Clock) SinkOption {
	return func(s *ResultSink) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSinkLogger sets the logger.
func WithSinkLogger(logger *zap.Logger) SinkOption {
	return func(s *ResultSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewResultSink builds a sink for runID. Snapshots land under prefix in blobs;
// a nil blobs keeps everything in memory.
func NewResultSink(runID, prefix string, blobs BlobStore, opts ...SinkOption) *ResultSink {
	s := &ResultSink{
		years:   make(map[int][]PaperRecord),
		flushed: make(map[int]string),
		runID:   runID,
		prefix:  prefix,
		blobs:   blobs,
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores an accepted record after the year's existing records.
func (s *ResultSink) Append(rec PaperRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years[rec.Year] = append(s.years[rec.Year], rec)
}

// Records returns a copy of the accepted records for year.
func (s *ResultSink) Records(year int) []PaperRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PaperRecord(nil), s.years[year]...)
}

// FlushPartial writes year's snapshot and returns its URI. Mirror and publish
// failures are logged; only the snapshot write is fatal.
func (s *ResultSink) FlushPartial(ctx context.Context, year int) (string, error) {
	records := s.Records(year)
	var uri string
	if s.blobs != nil {
		var buf bytes.Buffer
		if err := EncodeRecords(&buf, records); err != nil {
			return "", err
		}
		var err error
		uri, err = s.blobs.PutObject(ctx, SnapshotPath(s.prefix, year), "application/json", &buf)
		if err != nil {
			return "", fmt.Errorf("write snapshot for %d: %w", year, err)
		}
	}

	if s.records != nil && len(records) > 0 {
		n, err := s.records.SaveRecords(ctx, s.runID, records)
		if err != nil {
			s.logger.Warn("record mirror failed", zap.Int("year", year), zap.Error(err))
		} else {
			s.logger.Debug("records mirrored", zap.Int("year", year), zap.Int64("inserted", n))
		}
	}

	if s.publisher != nil && s.topic != "" {
		notice := YearFlushed{
			RunID:       s.runID,
			Year:        year,
			Records:     len(records),
			SnapshotURI: uri,
			FlushedAt:   s.clock.Now(),
		}
		if _, err := s.publisher.Publish(ctx, s.topic, notice); err != nil {
			s.logger.Warn("flush notification failed", zap.Int("year", year), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.flushed[year] = uri
	s.mu.Unlock()
	s.logger.Info("year snapshot flushed",
		zap.Int("year", year),
		zap.Int("records", len(records)),
		zap.String("uri", uri),
	)
	return uri, nil
}

// Flushed reports whether year has been flushed and where it went.
func (s *ResultSink) Flushed(year int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri, ok := s.flushed[year]
	return uri, ok
}

// Finalize concatenates every year's records in ascending year order,
// keeping acceptance order within a year.
func (s *ResultSink) Finalize() []PaperRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	years := make([]int, 0, len(s.years))
	total := 0
	for y, recs := range s.years {
		years = append(years, y)
		total += len(recs)
	}
	sort.Ints(years)
	out := make([]PaperRecord, 0, total)
	for _, y := range years {
		out = append(out, s.years[y]...)
	}
	return out
}
