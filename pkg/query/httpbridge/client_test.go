package httpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/window"
)

// fakeBridge serves canned responses and captures the last query payload.
type fakeBridge struct {
	opened  atomic.Int32
	closed  atomic.Int32
	lastReq atomic.Value
	rows    string
}

func (f *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req openRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Archive == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"archive required"}`)
			return
		}
		f.opened.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"session_id":"s-1"}`)
	})
	mux.HandleFunc("POST /v1/sessions/s-1/query", func(w http.ResponseWriter, r *http.Request) {
		var p queryPayload
		json.NewDecoder(r.Body).Decode(&p)
		f.lastReq.Store(p)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, f.rows)
	})
	mux.HandleFunc("DELETE /v1/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		f.closed.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestClient_SessionLifecycle(t *testing.T) {
	fake := &fakeBridge{rows: `{"rows":[
		{"category_name":"Wind","child_name":"WF1","_date":"6/15/2031 2:00:00 PM","value":123.4},
		{"category_name":"Solar","child_name":"SF1","_date":"6/15/2031 3:00:00 PM","value":"7"},
		{"category_name":"Broken","_date":"6/15/2031 3:00:00 PM","value":1}
	]}`}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL)
	sess, err := c.Open(context.Background(), "/data/Base.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	w := window.Window{
		Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2030, 12, 31, 23, 0, 0, 0, time.UTC),
	}
	res, err := sess.Query(context.Background(), query.Request{
		Collection: 1, Property: 2, Parent: "System", Period: query.Interval, Window: &w,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if len(res.Rejected) != 1 {
		t.Errorf("rejected = %d, want 1", len(res.Rejected))
	}
	if res.Rows[0].Value != 123.4 || res.Rows[1].Value != 7 {
		t.Errorf("values = %v, %v", res.Rows[0].Value, res.Rows[1].Value)
	}

	p := fake.lastReq.Load().(queryPayload)
	if p.Collection != 1 || p.Property != 2 || p.Period != "Interval" || p.Parent != "System" {
		t.Errorf("payload = %+v", p)
	}
	if p.Window == nil || p.Window.Start != "2030-01-01T00:00:00" || p.Window.EndEngine != "12/31/2030 11:00:00 PM" {
		t.Errorf("window payload = %+v", p.Window)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if fake.opened.Load() != 1 || fake.closed.Load() != 1 {
		t.Errorf("opened/closed = %d/%d, want 1/1", fake.opened.Load(), fake.closed.Load())
	}
	if _, err := sess.Query(context.Background(), query.Request{}); err == nil {
		t.Error("Query on closed session should fail")
	}
}

func TestClient_NoWindowOmitsBounds(t *testing.T) {
	fake := &fakeBridge{rows: `{"rows":[]}`}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	sess, err := New(server.URL).Open(context.Background(), "a.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	res, err := sess.Query(context.Background(), query.Request{Collection: 80, Property: 6, Period: query.FiscalYear})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(res.Rows))
	}
	if p := fake.lastReq.Load().(queryPayload); p.Window != nil {
		t.Errorf("window = %+v, want nil", p.Window)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"engine crashed"}`)
	}))
	defer server.Close()

	_, err := New(server.URL).Open(context.Background(), "a.zip")
	if err == nil {
		t.Fatal("Open() should fail on 500")
	}
	if !strings.Contains(err.Error(), "engine crashed") || !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v, want status and message", err)
	}
}

func TestClient_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := New(server.URL).Open(ctx, "a.zip"); err == nil {
		t.Error("Open() should fail when the context expires")
	}
}

func TestClient_EmptyArchive(t *testing.T) {
	if _, err := New("http://unused").Open(context.Background(), ""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestClient_InvalidBaseURL(t *testing.T) {
	if _, err := New("://bad").Open(context.Background(), "a.zip"); err == nil {
		t.Error("Open() with invalid base URL should fail")
	}
}
