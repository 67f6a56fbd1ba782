package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	healthuc "github.com/kailas-cloud/catalogsync/internal/usecase/health"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if len(header) == 1 {
		req.Header.Set("Authorization", header[0])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		store  error
		status int
		want   string
	}{
		{name: "healthy", status: http.StatusOK, want: "ok"},
		{name: "store down", store: errors.New("down"), status: http.StatusServiceUnavailable, want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(healthuc.New(pinger{err: tt.store}, nil, nil), prometheus.NewRegistry(), nil)
			rr := serve(t, srv.Router(nil), "/healthz")

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.want {
				t.Errorf("health status = %q, want %q", resp.Status, tt.want)
			}
		})
	}
}

func TestCurrentRun(t *testing.T) {
	srv := NewServer(nil, prometheus.NewRegistry(), nil)
	h := srv.Router([]string{"ops-key"})

	if rr := serve(t, h, "/v1/runs/current", "Bearer ops-key"); rr.Code != http.StatusNotFound {
		t.Fatalf("before any run: status = %d", rr.Code)
	}

	summary := domain.NewSummary(0)
	summary.SetStage(domain.StagePersisting)
	summary.EntitiesPersisted.Add(42)
	srv.Track("run-1", "shop.example.com", summary)

	if rr := serve(t, h, "/v1/runs/current"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d", rr.Code)
	}

	rr := serve(t, h, "/v1/runs/current", "Bearer ops-key")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp RunResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run-1" || resp.Tenant != "shop.example.com" {
		t.Errorf("unexpected identity: %+v", resp)
	}
	if resp.Stage != domain.StagePersisting || resp.EntitiesPersisted != 42 {
		t.Errorf("unexpected snapshot: %+v", resp.Snapshot)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "catalogsync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rr := serve(t, NewServer(nil, reg, nil).Router([]string{"k"}), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "catalogsync_test_total 1") {
		t.Errorf("metric missing from output:\n%s", rr.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	rr := serve(t, NewServer(nil, prometheus.NewRegistry(), nil).Router(nil), "/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestRecoverer(t *testing.T) {
	h := jsonRecoverer(nopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := serve(t, h, "/")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.Code != CodeInternal {
		t.Errorf("unexpected body: %+v (%v)", resp, err)
	}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
