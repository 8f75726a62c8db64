package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/store"
)

// ExampleProgressHandler_ListRuns shows how to serve the /v1/runs endpoint.
func ExampleProgressHandler_ListRuns() {
	repo := &mockProgressRepo{
		runs: []store.Run{{
			ID:        uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
			Status:    store.RunSuccess,
			StartedAt: time.Unix(0, 0),
			Records:   2310,
		}},
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil))

	var payload struct {
		Runs []runDTO `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d, records: %d\n", len(payload.Runs), payload.Runs[0].Records)
	// Output:
	// returned runs: 1, records: 2310
}
