package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) CloserFunc {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.RegisterCloser("store", record("store"))
	sm.RegisterCloser("cache", record("cache"))
	sm.RegisterCloser("http", record("http"))

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"http", "cache", "store"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("close order[%d] = %s, want %s", i, order[i], want[i])
		}
	}

	// Second call is a no-op.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran twice: %v", order)
	}
}

func TestShutdown_ReturnsFirstCloseError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	ran := false
	sm.RegisterCloser("first", CloserFunc(func() error { ran = true; return nil }))
	sm.RegisterCloser("broken", CloserFunc(func() error { return errors.New("boom") }))

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected close error")
	}
	if !ran {
		t.Error("remaining closers should still run after a failure")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 30 * time.Millisecond})
	if !sm.TrackRequest() {
		t.Fatal("request should be accepted before shutdown")
	}

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected drain error with a stuck request")
	}
	if sm.TrackRequest() {
		t.Error("requests must be rejected after shutdown")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	release := make(chan struct{})
	started := make(chan struct{})
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		done <- rec.Code
	}()
	<-started
	if sm.InFlightCount() != 1 {
		t.Errorf("expected 1 in-flight request, got %d", sm.InFlightCount())
	}

	shutdownDone := make(chan error)
	go func() { shutdownDone <- sm.Shutdown(context.Background(), "test") }()
	<-sm.ShutdownCh()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 during shutdown, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["code"] != CodeShuttingDown {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("in-flight request should complete, got %d", code)
	}
	if err := <-shutdownDone; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestGracefulHTTPServer(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	srv := NewGracefulHTTPServer(&http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}, sm)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v after clean shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
