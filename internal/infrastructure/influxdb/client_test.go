package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/config"
)

// influxServer is an httptest stand-in for the InfluxDB v2 ping and write endpoints.
type influxServer struct {
	*httptest.Server

	down atomic.Bool

	mu     sync.Mutex
	writes []string
	query  []string
}

func newInfluxServer(t *testing.T) *influxServer {
	t.Helper()
	s := &influxServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		if s.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.writes = append(s.writes, string(body))
		s.query = append(s.query, r.URL.RawQuery)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *influxServer) written() (bodies, queries []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...), append([]string(nil), s.query...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "tivo",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newInfluxServer(t)

	c, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv := newInfluxServer(t)
	srv.down.Store(true)

	_, err := Connect(context.Background(), testConfig(srv.URL))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := newInfluxServer(t)
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, testConfig(url))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_HealthCheckFollowsServer(t *testing.T) {
	srv := newInfluxServer(t)
	c, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	srv.down.Store(true)
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil while server is down")
	}

	srv.down.Store(false)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v after recovery", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestClient_CloseFlushesPendingPoints(t *testing.T) {
	srv := newInfluxServer(t)
	c, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ts := time.Unix(1700000000, 0)
	c.WritePoint(MeasurementStatus, map[string]string{"device_id": "746000190000001"}, map[string]any{"channel": 501}, ts)

	// The flush interval is a minute, so only Close can have sent it
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	bodies, queries := srv.written()
	if len(bodies) != 1 {
		t.Fatalf("write requests = %d, want 1", len(bodies))
	}
	if !strings.HasPrefix(bodies[0], "tivo_status,device_id=746000190000001 channel=501i 1700000000000000000") {
		t.Errorf("line protocol = %q", bodies[0])
	}
	if !strings.Contains(queries[0], "bucket=tivo") || !strings.Contains(queries[0], "org=home") {
		t.Errorf("write query = %q", queries[0])
	}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestClient_CloseFlushesOnce(t *testing.T) {
	h, writer, server := newTestHistory()
	c := h.client

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() = %v", err)
	}

	c.Close()
	c.Close()
	if writer.flushed != 1 || !server.closed {
		t.Errorf("flushed=%d closed=%v, want 1 and true", writer.flushed, server.closed)
	}

	c.WritePoint("m", nil, map[string]any{"v": 1}, time.Now())
	if len(writer.lines) != 0 {
		t.Error("point written after Close")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestClient_HealthCheckUnhealthy(t *testing.T) {
	c := newClient(&fakeServer{healthy: false}, &fakeWriter{})
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on unhealthy server should fail")
	}
}

func TestClient_ForwardErrors(t *testing.T) {
	c := newClient(&fakeServer{healthy: true}, &fakeWriter{})
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("write rejected")
	close(errs)
	c.forwardErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "write rejected" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Error("callback not invoked")
	}
}
