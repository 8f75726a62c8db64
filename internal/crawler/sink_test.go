package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordFor(year int, slug string) PaperRecord {
	r := validRecord()
	r.Year = year
	r.Title = slug
	r.SourceURL = "https://openaccess.test/" + slug + ".html"
	return r
}

func TestResultSinkFlushPartial(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobs()
	pub := &recordingPublisher{}
	store := &recordingStore{}
	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	sink := NewResultSink("run-1", "partial", blobs,
		WithPublisher(pub, "flushed"),
		WithRecordStore(store),
		WithSinkClock(fixedClock{t: now}),
	)
	sink.Append(recordFor(2020, "b"))
	sink.Append(recordFor(2020, "a"))
	sink.Append(recordFor(2021, "c"))

	uri, err := sink.FlushPartial(context.Background(), 2020)
	require.NoError(t, err)
	assert.Equal(t, "mem://partial/cvpr_2020.json", uri)

	snap, ok := blobs.records("partial/cvpr_2020.json")
	require.True(t, ok)
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Title, "acceptance order is kept")

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, YearFlushed{RunID: "run-1", Year: 2020, Records: 2, SnapshotURI: uri, FlushedAt: now}, pub.payloads[0])
	assert.Len(t, store.saved, 2)

	got, flushed := sink.Flushed(2020)
	assert.True(t, flushed)
	assert.Equal(t, uri, got)
	_, flushed = sink.Flushed(2021)
	assert.False(t, flushed)
}

func TestResultSinkFlushEmptyYear(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobs()
	store := &recordingStore{}
	sink := NewResultSink("run-1", "partial", blobs, WithRecordStore(store))

	_, err := sink.FlushPartial(context.Background(), 2018)
	require.NoError(t, err)
	snap, ok := blobs.records("partial/cvpr_2018.json")
	require.True(t, ok)
	assert.Empty(t, snap)
	assert.Empty(t, store.saved)
}

func TestResultSinkSnapshotFailureIsFatal(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobs()
	blobs.fail = errors.New("disk full")
	sink := NewResultSink("run-1", "partial", blobs)
	sink.Append(recordFor(2020, "a"))

	_, err := sink.FlushPartial(context.Background(), 2020)
	require.ErrorContains(t, err, "disk full")
	_, flushed := sink.Flushed(2020)
	assert.False(t, flushed)
}

func TestResultSinkPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{err: errors.New("topic missing")}
	sink := NewResultSink("run-1", "partial", newMemBlobs(), WithPublisher(pub, "flushed"))
	sink.Append(recordFor(2020, "a"))

	_, err := sink.FlushPartial(context.Background(), 2020)
	require.NoError(t, err)
}

func TestResultSinkWithoutBlobs(t *testing.T) {
	t.Parallel()

	sink := NewResultSink("run-1", "partial", nil)
	sink.Append(recordFor(2020, "a"))
	uri, err := sink.FlushPartial(context.Background(), 2020)
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestResultSinkFinalizeOrdersYears(t *testing.T) {
	t.Parallel()

	sink := NewResultSink("run-1", "", nil)
	sink.Append(recordFor(2022, "z"))
	sink.Append(recordFor(2019, "y"))
	sink.Append(recordFor(2022, "x"))

	var titles []string
	for _, r := range sink.Finalize() {
		titles = append(titles, r.Title)
	}
	assert.Equal(t, []string{"y", "z", "x"}, titles)
}
