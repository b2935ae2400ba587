package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/wearlytics/telemetry-ingest/internal/api/v1"
	httperr "github.com/wearlytics/telemetry-ingest/internal/core/errors"
	"github.com/wearlytics/telemetry-ingest/internal/core/storage"
	"github.com/wearlytics/telemetry-ingest/internal/metrics"
	"github.com/wearlytics/telemetry-ingest/internal/schema"
)

const eventSchemaPath = "../../schemas/events/wearable_event.json"

// fakeStore is an in-memory EventStore with transactional staging, so tests
// can assert both outcomes and rollback behavior without a database.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]*v1.Event
	beginErr   error
	commitErr  error
	failInsert int // 1-based insert index that returns an error; 0 = never
	committed  int
	rolledBack int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*v1.Event{}}
}

func (f *fakeStore) BeginBatch(ctx context.Context) (storage.BatchTx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{store: f, staged: map[string]*v1.Event{}}, nil
}

func (f *fakeStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeStore) row(id string) *v1.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeTx struct {
	store   *fakeStore
	staged  map[string]*v1.Event
	inserts int
	done    bool
}

func (t *fakeTx) InsertEvent(ctx context.Context, event *v1.Event) (storage.Outcome, error) {
	t.inserts++
	if t.store.failInsert > 0 && t.inserts >= t.store.failInsert {
		return 0, errors.New("connection lost")
	}

	t.store.mu.Lock()
	_, exists := t.store.rows[event.EventID]
	t.store.mu.Unlock()
	if exists {
		return storage.OutcomeDuplicate, nil
	}
	if _, staged := t.staged[event.EventID]; staged {
		return storage.OutcomeDuplicate, nil
	}

	t.staged[event.EventID] = event
	return storage.OutcomeInserted, nil
}

func (t *fakeTx) Commit() error {
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.mu.Lock()
	for id, evt := range t.staged {
		t.store.rows[id] = evt
	}
	t.store.committed++
	t.store.mu.Unlock()
	t.done = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	t.store.rolledBack++
	t.store.mu.Unlock()
	t.staged = map[string]*v1.Event{}
	t.done = true
	return nil
}

func newTestService(t *testing.T, store storage.EventStore) (*Service, *metrics.Register, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := schema.NewValidator(eventSchemaPath)
	require.NoError(t, err)

	register := metrics.NewRegister()
	svc := NewService(validator, store, register, 1)

	r := gin.New()
	svc.RegisterRoutes(r)
	return svc, register, r
}

func validEvent(id string) map[string]interface{} {
	return map[string]interface{}{
		"event_id":       id,
		"schema_version": "1.0.0",
		"event_name":     "page_view",
		"client_ts":      "2024-01-01T00:00:00Z",
		"source":         "web",
		"environment":    "local",
		"payload":        map[string]interface{}{},
	}
}

func postBatch(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeTally(t *testing.T, resp *httptest.ResponseRecorder) metrics.Tally {
	t.Helper()
	var tally metrics.Tally
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tally))
	return tally
}

func TestIngestHandler_SingleValidEvent(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	const id = "1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01"
	resp := postBatch(t, r, gin.H{"events": []interface{}{validEvent(id)}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{Received: 1, Accepted: 1}, decodeTally(t, resp))
	require.Equal(t, 1, store.rowCount())
	require.Equal(t, 1, store.committed)

	// The normalizer stamped server_ts before validation.
	require.False(t, store.row(id).ServerTS.IsZero())
}

func TestIngestHandler_ResubmissionDedupes(t *testing.T) {
	store := newFakeStore()
	_, register, r := newTestService(t, store)

	const id = "1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01"
	batch := gin.H{"events": []interface{}{validEvent(id)}}

	first := postBatch(t, r, batch)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, metrics.Tally{Received: 1, Accepted: 1}, decodeTally(t, first))

	second := postBatch(t, r, batch)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, metrics.Tally{Received: 1, Deduped: 1}, decodeTally(t, second))

	// Exactly one stored row; global counters are the sum of both tallies.
	require.Equal(t, 1, store.rowCount())
	require.Equal(t, metrics.Tally{Received: 2, Accepted: 1, Deduped: 1}, register.Snapshot())
}

func TestIngestHandler_DivergentDuplicateKeepsOriginal(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	const id = "1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01"
	original := validEvent(id)
	original["payload"] = map[string]interface{}{"page_title": "Home"}
	postBatch(t, r, gin.H{"events": []interface{}{original}})

	divergent := validEvent(id)
	divergent["payload"] = map[string]interface{}{"page_title": "Settings"}
	resp := postBatch(t, r, gin.H{"events": []interface{}{divergent}})

	require.Equal(t, metrics.Tally{Received: 1, Deduped: 1}, decodeTally(t, resp))
	require.Equal(t, 1, store.rowCount())
	require.Equal(t, "Home", store.row(id).Payload["page_title"])
}

func TestIngestHandler_RejectionDoesNotAbortSiblings(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	bad := validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b002")
	delete(bad, "event_name")

	resp := postBatch(t, r, gin.H{"events": []interface{}{
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"),
		bad,
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b003"),
	}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{Received: 3, Accepted: 2, Rejected: 1}, decodeTally(t, resp))
	require.Equal(t, 2, store.rowCount())
}

func TestIngestHandler_NonObjectElementRejected(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": []interface{}{
		"not an object",
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"),
	}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{Received: 2, Accepted: 1, Rejected: 1}, decodeTally(t, resp))
}

func TestIngestHandler_NullElementRejected(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": []interface{}{
		nil,
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"),
	}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{Received: 2, Accepted: 1, Rejected: 1}, decodeTally(t, resp))
	require.Equal(t, 1, store.rowCount())
	require.Equal(t, 1, store.committed)
}

func TestIngestHandler_EmptyBatch(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": []interface{}{}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{}, decodeTally(t, resp))
}

func TestIngestHandler_MissingEventsField(t *testing.T) {
	store := newFakeStore()
	_, register, r := newTestService(t, store)

	for _, body := range []interface{}{
		gin.H{},
		gin.H{"events": nil},
	} {
		resp := postBatch(t, r, body)
		require.Equal(t, http.StatusBadRequest, resp.Code)

		var errResp httperr.ErrorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
		require.Equal(t, httperr.HttpInvalidBatchError, errResp.ErrorType)
	}

	// Rejected before any per-event processing: nothing stored, nothing counted.
	require.Equal(t, 0, store.rowCount())
	require.Equal(t, metrics.Tally{}, register.Snapshot())
}

func TestIngestHandler_EventsNotAList(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": "page_view"})

	require.Equal(t, http.StatusBadRequest, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
}

func TestIngestHandler_MalformedJSON(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestIngestHandler_BodySizeLimit(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(t, store)
	svc.maxBodySizeBytes = 10

	r := gin.New()
	svc.RegisterRoutes(r)

	resp := postBatch(t, r, gin.H{"events": []interface{}{validEvent("1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01")}})

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpPayloadTooLargeError, errResp.ErrorType)
}

func TestIngestHandler_StorageErrorRollsBackWholeBatch(t *testing.T) {
	store := newFakeStore()
	store.failInsert = 2
	_, register, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": []interface{}{
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"),
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b002"),
	}})

	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpBatchAbortedError, errResp.ErrorType)

	// No partial writes visible, nothing merged into the shared counters.
	require.Equal(t, 0, store.rowCount())
	require.Equal(t, 1, store.rolledBack)
	require.Equal(t, metrics.Tally{}, register.Snapshot())
}

func TestIngestHandler_CommitErrorSurfacesAsServerError(t *testing.T) {
	store := newFakeStore()
	store.commitErr = errors.New("commit failed")
	_, register, r := newTestService(t, store)

	resp := postBatch(t, r, gin.H{"events": []interface{}{validEvent("1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01")}})

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, metrics.Tally{}, register.Snapshot())
}

func TestMetricsHandler_SumsBatchTallies(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	// Batch 1: one accepted. Batch 2: same event deduped plus one rejected.
	postBatch(t, r, gin.H{"events": []interface{}{validEvent("1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01")}})

	bad := validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b002")
	bad["environment"] = "production"
	postBatch(t, r, gin.H{"events": []interface{}{
		validEvent("1f3b8a52-7c4e-4f7b-9a11-2c6d1e0f4a01"),
		bad,
	}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, metrics.Tally{Received: 3, Accepted: 1, Rejected: 1, Deduped: 1}, decodeTally(t, resp))
}

func TestIngestHandler_TallyConservation(t *testing.T) {
	store := newFakeStore()
	_, _, r := newTestService(t, store)

	events := []interface{}{
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"),
		validEvent("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b001"), // duplicate within batch
		"garbage",
	}
	for i := 0; i < 5; i++ {
		events = append(events, validEvent(fmt.Sprintf("9b4f0a10-0d3c-4d38-8a4f-55a6f3a2b10%d", i)))
	}

	resp := postBatch(t, r, gin.H{"events": events})
	require.Equal(t, http.StatusOK, resp.Code)

	tally := decodeTally(t, resp)
	require.Equal(t, uint64(8), tally.Received)
	require.Equal(t, tally.Received, tally.Accepted+tally.Rejected+tally.Deduped)
}
