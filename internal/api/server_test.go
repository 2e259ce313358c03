package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/session"
	"github.com/MikeSquared-Agency/switchboard/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.MockStore, *session.Registry) {
	t.Helper()
	store := testutil.NewMockStore()
	reg := session.NewRegistry()
	noMedia := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	return NewServer(store, reg, noMedia, 0), store, reg
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, reg := newTestServer(t)
	if err := reg.Register(session.New("CA1", "", "")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := get(t, srv, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "switchboard" {
		t.Errorf("body = %v", body)
	}
	if body["active_sessions"] != float64(1) {
		t.Errorf("active_sessions = %v, want 1", body["active_sessions"])
	}
}

func TestGetCall(t *testing.T) {
	srv, store, reg := newTestServer(t)
	if _, err := store.CreateRecord(context.Background(), "CA1", "+15550001", "+15550002", time.Now()); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	rec := get(t, srv, "/api/v1/calls/CA1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["call_sid"] != "CA1" || body["status"] != session.StatusInProgress {
		t.Errorf("body = %v", body)
	}
	if _, present := body["live_state"]; present {
		t.Error("finished call should not report live_state")
	}

	// A live session annotates the record with its state.
	sess := session.New("CA1", "", "")
	if err := reg.Register(sess); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rec = get(t, srv, "/api/v1/calls/CA1")
	body = map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["live_state"] != "opening" {
		t.Errorf("live_state = %v, want opening", body["live_state"])
	}
}

func TestGetCallNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if rec := get(t, srv, "/api/v1/calls/CA404"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// A store outage is a server error, not a missing call.
func TestGetCallStoreFailure(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.GetErr = errors.New("connection refused")

	if rec := get(t, srv, "/api/v1/calls/CA1"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListCalls(t *testing.T) {
	srv, store, _ := newTestServer(t)
	for _, sid := range []string{"CA1", "CA2", "CA3"} {
		if _, err := store.CreateRecord(context.Background(), sid, "", "", time.Now()); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
	}

	rec := get(t, srv, "/api/v1/calls")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var calls []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &calls); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("got %d calls, want 3", len(calls))
	}

	rec = get(t, srv, "/api/v1/calls?limit=2")
	calls = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &calls)
	if len(calls) != 2 {
		t.Errorf("got %d calls with limit=2", len(calls))
	}

	// Status filter with no matches yields an empty list.
	rec = get(t, srv, "/api/v1/calls?status=completed")
	calls = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &calls)
	if len(calls) != 0 {
		t.Errorf("got %d completed calls, want 0", len(calls))
	}
}
