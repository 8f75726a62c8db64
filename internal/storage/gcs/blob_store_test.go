package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "harvest-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/harvest-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		_, _ = fmt.Fprintf(w, `{"name": %q, "bucket": "harvest-bucket"}`, gotName)
	})
	store := newTestStore(t, handler, "cvpr/")

	uri, err := store.PutObject(context.Background(), "partial/cvpr_2022.json", "application/json",
		bytes.NewReader([]byte(`[{"title":"x"}]`)))
	require.NoError(t, err)
	assert.Equal(t, "gs://harvest-bucket/cvpr/partial/cvpr_2022.json", uri)
	assert.Equal(t, "cvpr/partial/cvpr_2022.json", gotName)
	assert.Contains(t, gotBody, `[{"title":"x"}]`)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, "")
	_, err := store.PutObject(context.Background(), "a.json", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestListObjectsStripsPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/harvest-bucket/o")
		assert.Equal(t, "cvpr/partial/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"items": [
			{"name": "cvpr/partial/cvpr_2024.json", "bucket": "harvest-bucket"},
			{"name": "cvpr/partial/cvpr_2023.json", "bucket": "harvest-bucket"}
		]}`)
	})
	store := newTestStore(t, handler, "cvpr")

	paths, err := store.ListObjects(context.Background(), "partial/")
	require.NoError(t, err)
	assert.Equal(t, []string{"partial/cvpr_2023.json", "partial/cvpr_2024.json"}, paths)
}
