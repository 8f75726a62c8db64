package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

func TestPrometheusSinkRecordsRunAndFetchMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageYearStart, Year: 2023},
		{
			RunID:       runID,
			TS:          now.Add(time.Second),
			Stage:       progress.StageFetchDone,
			Year:        2023,
			Site:        "openaccess.thecvf.com",
			Bytes:       2048,
			StatusClass: progress.Status2xx,
			Dur:         120 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StageRecordAccepted, Year: 2023},
		{RunID: runID, TS: now, Stage: progress.StageRecordRejected, Year: 2023, Note: "duplicate"},
		{RunID: runID, TS: now, Stage: progress.StageRecordRejected, Year: 2023, Note: "missing abstract"},
		{
			RunID:   runID,
			TS:      now.Add(5 * time.Second),
			Stage:   progress.StageYearDone,
			Year:    2023,
			Outcome: progress.OutcomeCompleted,
			Dur:     5 * time.Second,
		},
		{
			RunID:   runID,
			TS:      now.Add(6 * time.Second),
			Stage:   progress.StageRunDone,
			Outcome: progress.OutcomeCompleted,
			Dur:     6 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.yearsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.yearsCompleted.WithLabelValues("completed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.recordsAccepted.WithLabelValues("2023")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.recordsRejected.WithLabelValues("duplicate")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.recordsRejected.WithLabelValues("invalid")), 1e-9)
	require.InDelta(t, 1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("openaccess.thecvf.com", "2xx")), 1e-9)
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("openaccess.thecvf.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "harvest_fetch_duration_seconds"))
}

func TestPrometheusSinkCountsFailedYearOnce(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageYearStart, Year: 2019},
		{RunID: runID, TS: now, Stage: progress.StageYearStart, Year: 2019},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.yearsRunning), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageYearError, Year: 2019, Outcome: progress.OutcomeFailed},
		{RunID: runID, TS: now, Stage: progress.StageYearError, Year: 2019, Outcome: progress.OutcomeFailed},
	}))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.yearsRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.yearsCompleted.WithLabelValues("failed")), 1e-9)
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
