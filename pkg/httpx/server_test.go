package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capture(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewServer(t *testing.T) {
	logger := discard()
	server := NewServer(":9464", nil, logger)

	if server.server.Addr != ":9464" {
		t.Errorf("Addr = %q, want %q", server.server.Addr, ":9464")
	}
	if server.logger != logger {
		t.Error("logger not set correctly")
	}
	if server.server.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("ReadHeaderTimeout = %v, want 10s", server.server.ReadHeaderTimeout)
	}
	if server.server.ReadTimeout != 30*time.Second || server.server.WriteTimeout != 30*time.Second {
		t.Errorf("Read/WriteTimeout = %v/%v, want 30s", server.server.ReadTimeout, server.server.WriteTimeout)
	}
	if server.server.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", server.server.IdleTimeout)
	}

	if NewServer(":9464", nil, nil).logger == nil {
		t.Error("logger should not be nil when nil is passed")
	}
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("localhost:0", http.NewServeMux(), discard())

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()
	time.Sleep(50 * time.Millisecond)

	if err := server.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errChan; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	type progress struct {
		RunID  string `json:"run_id"`
		Failed int    `json:"failed"`
	}

	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusNotFound} {
		w := httptest.NewRecorder()
		if err := WriteJSON(w, status, progress{RunID: "r1", Failed: 2}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
		if w.Code != status {
			t.Errorf("status code = %d, want %d", w.Code, status)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var got progress
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if got.RunID != "r1" || got.Failed != 2 {
			t.Errorf("body = %+v", got)
		}
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusBadRequest, errors.New("bad run id")) }, http.StatusBadRequest, "bad run id"},
		{"message", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusInternalServerError, "journal closed") }, http.StatusInternalServerError, "journal closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("status code = %d, want %d", w.Code, tt.status)
			}
			var got ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if got.Error != tt.msg {
				t.Errorf("error = %q, want %q", got.Error, tt.msg)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler http.Handler
		status  int
		body    string
	}{
		{"plain", HealthHandler(), http.StatusOK, "OK"},
		{"check passes", HealthHandlerWithCheck(func() error { return nil }), http.StatusOK, "OK"},
		{"check fails", HealthHandlerWithCheck(func() error { return errors.New("journal unavailable") }), http.StatusServiceUnavailable, `{"error":"journal unavailable"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.status {
				t.Errorf("status code = %d, want %d", w.Code, tt.status)
			}
			if w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		var buf bytes.Buffer
		handler := LoggingMiddleware(capture(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress", nil))

		out := buf.String()
		for _, field := range []string{"HTTP request", "method=GET", "path=/progress", fmt.Sprintf("status=%d", code), "duration_ms"} {
			if !strings.Contains(out, field) {
				t.Errorf("log output missing %q: %s", field, out)
			}
		}
	}
}

func TestLoggingMiddleware_DefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(capture(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no explicit header"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log output missing status=200: %s", buf.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := RecoveryMiddleware(capture(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("journal exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var got ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if got.Error != "internal server error" {
		t.Errorf("error = %q, want %q", got.Error, "internal server error")
	}
	if out := buf.String(); !strings.Contains(out, "panic recovered") || !strings.Contains(out, "journal exploded") {
		t.Errorf("log output = %s", out)
	}
}

func TestMiddleware_NilLogger(t *testing.T) {
	h := RecoveryMiddleware(nil)(LoggingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestServer_Integration(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler())
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "running"})
	})

	ts := httptest.NewServer(RecoveryMiddleware(discard())(LoggingMiddleware(discard())(mux)))
	defer ts.Close()

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/progress": http.StatusOK, "/missing": http.StatusNotFound} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}
