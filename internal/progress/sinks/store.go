package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/store"
)

// StoreSink persists progress via a store.ProgressRepository. Fetch and record
// events are collapsed into one delta per (run, year) per batch.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards batch to the repository. Run starts are written first and
// terminal statuses last, so the rows they touch already exist.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[statsKey]*statsDelta)
	var terminal []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, evt.RunUUID(), evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageFetchDone, progress.StageRecordAccepted, progress.StageRecordRejected:
			recordDelta(deltas, evt)
		case progress.StageYearDone, progress.StageYearError, progress.StageRunDone:
			terminal = append(terminal, evt)
		}
	}

	for key, d := range deltas {
		if d.delta.IsZero() {
			continue
		}
		if err := s.repo.UpsertYearStats(ctx, key.runID, key.year, d.delta, d.at); err != nil {
			return fmt.Errorf("upsert year stats: %w", err)
		}
	}

	for _, evt := range terminal {
		if err := s.handleTerminal(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) handleTerminal(ctx context.Context, evt progress.Event) error {
	status := runStatus(evt.Outcome)
	if evt.Stage == progress.StageRunDone {
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, evt.Records, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		return nil
	}
	if err := s.repo.SetYearStatus(ctx, evt.RunUUID(), evt.Year, status, evt.TS); err != nil {
		return fmt.Errorf("set year status: %w", err)
	}
	return nil
}

func runStatus(o progress.Outcome) store.RunStatus {
	switch o {
	case progress.OutcomeFailed:
		return store.RunError
	case progress.OutcomeCanceled:
		return store.RunCanceled
	default:
		return store.RunSuccess
	}
}

func recordDelta(deltas map[statsKey]*statsDelta, evt progress.Event) {
	key := statsKey{runID: evt.RunUUID(), year: evt.Year}
	d := deltas[key]
	if d == nil {
		d = &statsDelta{}
		deltas[key] = d
	}
	switch evt.Stage {
	case progress.StageRecordAccepted:
		d.delta.Accepted++
	case progress.StageRecordRejected:
		d.delta.Rejected++
	case progress.StageFetchDone:
		d.delta.Fetches++
		d.delta.Bytes += evt.Bytes
		switch evt.StatusClass {
		case progress.Status2xx:
			d.delta.Fetch2xx++
		case progress.Status3xx:
			d.delta.Fetch3xx++
		case progress.Status4xx:
			d.delta.Fetch4xx++
		case progress.Status5xx:
			d.delta.Fetch5xx++
		case progress.StatusCache:
			d.delta.CacheHits++
		}
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID uuid.UUID
	year  int
}

type statsDelta struct {
	delta store.YearDelta
	at    time.Time
}
