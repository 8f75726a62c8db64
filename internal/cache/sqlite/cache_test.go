package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

func TestCachePutGetReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, "k", crawler.CacheEntry{
		URL: "https://openaccess.thecvf.com/CVPR2024", StatusCode: 200, Body: []byte("v1"), FetchedAt: fetched,
	}))
	require.NoError(t, c.Put(ctx, "k", crawler.CacheEntry{
		URL: "https://openaccess.thecvf.com/CVPR2024", StatusCode: 200, ETag: `"v2"`, Body: []byte("v2"), FetchedAt: fetched,
	}))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Body))
	assert.Equal(t, `"v2"`, got.ETag)
	assert.True(t, fetched.Equal(got.FetchedAt))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", crawler.CacheEntry{URL: "u", StatusCode: 200, Body: []byte("b")}))
	require.NoError(t, c.Close())

	c, err = Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
