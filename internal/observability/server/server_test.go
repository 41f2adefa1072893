package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "evsched/pkg/logx"
)

func newTestService(health HealthFunc) (*Service, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "evsched_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	state := func() any { return map[string]int{"armed": 3} }
	return New(Config{}, logx.Nop(), reg, state, health), reg
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(b)
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)
	h := s.Handler(Config{})

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/metrics", http.StatusOK, "evsched_test_total 1"},
		{"/healthz", http.StatusOK, "ok"},
		{"/debug/state", http.StatusOK, `"armed": 3`},
		{"/debug/pprof/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.path, nil)
		if code != tt.wantCode {
			t.Fatalf("GET %s = %d, want %d", tt.path, code, tt.wantCode)
		}
		if !strings.Contains(body, tt.contains) {
			t.Fatalf("GET %s body = %q, want to contain %q", tt.path, body, tt.contains)
		}
	}
}

func TestHealthFailure(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(func() error { return errors.New("queue stopped") })
	code, body := get(t, s.Handler(Config{}), "/healthz", nil)
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "queue stopped") {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)
	h := s.Handler(Config{Token: "s3cret", Pprof: true})

	if code, _ := get(t, h, "/metrics", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/metrics?token=wrong", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer = %d, want 200", code)
	}
	if code, _ := get(t, h, "/debug/pprof/?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("pprof = %d, want 200", code)
	}
	// Liveness stays open for probes.
	if code, _ := get(t, h, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(nil)
	s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"})

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Addr() != "" {
		t.Fatalf("Addr after stop = %q, want empty", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"bogus":          false,
	}
	for in, want := range tests {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
