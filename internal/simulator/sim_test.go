package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/nxipc/internal/config"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newSim(t *testing.T, dialect string) *Sim {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Dialect = dialect
	cfg.Sim.RatePerSecond = 0
	s, err := New("ipcsim-test", cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new sim: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunSplitsRequestsAcrossSessions(t *testing.T) {
	for _, dialect := range []string{"cmif", "tipc"} {
		t.Run(dialect, func(t *testing.T) {
			testlog.Start(t)
			s := newSim(t, dialect)
			report, err := s.Run(context.Background(), Workload{Workers: 3, Requests: 10})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if report.Dialect != dialect {
				t.Fatalf("expected dialect %s, got %s", dialect, report.Dialect)
			}
			if report.Requests != 10 || report.Sessions != 3 {
				t.Fatalf("expected 10 requests over 3 sessions, got %+v", report)
			}
			if report.Modes["normal"] != 10 || len(report.Failures) != 0 {
				t.Fatalf("expected every request to report normal, got %+v", report)
			}
			if got := s.Host.Kernel().Stats().OpenSessions; got != 2 {
				t.Fatalf("expected only sm and apm left open, got %d", got)
			}
		})
	}
}

func TestRunRejectsZeroWorkers(t *testing.T) {
	testlog.Start(t)
	s := newSim(t, "cmif")
	if _, err := s.Run(context.Background(), Workload{}); err == nil {
		t.Fatalf("expected zero workers to fail")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	testlog.Start(t)
	s := newSim(t, "cmif")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, Workload{Workers: 1, Requests: 1, RatePerSecond: 1}); err == nil {
		t.Fatalf("expected cancelled workload to fail")
	}
}

func serve(t *testing.T, s *Sim, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
	}
	return rr.Code, out
}

func TestRoutesReportHostState(t *testing.T) {
	testlog.Start(t)
	s := newSim(t, "tipc")
	s.RegisterRoutes()

	if code, body := serve(t, s, http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", code, body)
	}
	if code, body := serve(t, s, http.MethodGet, "/performance", ""); code != http.StatusOK || body["mode"] != "normal" {
		t.Fatalf("expected normal mode, got %d %v", code, body)
	}
	if code, _ := serve(t, s, http.MethodPost, "/performance/boost", ""); code != http.StatusOK {
		t.Fatalf("expected boost accepted, got %d", code)
	}
	if _, body := serve(t, s, http.MethodGet, "/performance", ""); body["mode"] != "boost" {
		t.Fatalf("expected boost mode, got %v", body)
	}
	if code, _ := serve(t, s, http.MethodPost, "/performance/turbo", ""); code != http.StatusNotFound {
		t.Fatalf("expected unknown mode rejected, got %d", code)
	}

	code, body := serve(t, s, http.MethodGet, "/firmware", "")
	if code != http.StatusOK || !strings.Contains(body["firmware"].(string), "18.1.0") {
		t.Fatalf("unexpected firmware %d %v", code, body)
	}

	_, body = serve(t, s, http.MethodGet, "/services", "")
	initialized, _ := body["initialized"].([]any)
	if len(initialized) != 3 || initialized[0] != "sm" {
		t.Fatalf("expected sm, apm and set:sys initialized, got %v", body["initialized"])
	}

	_, body = serve(t, s, http.MethodGet, "/calls", "")
	if calls, _ := body["calls"].([]any); len(calls) == 0 {
		t.Fatalf("expected recorded calls")
	}
}

func TestWorkloadRouteAcceptsOverrides(t *testing.T) {
	testlog.Start(t)
	s := newSim(t, "cmif")
	s.RegisterRoutes()

	code, body := serve(t, s, http.MethodPost, "/workload", `{"workers":2,"requests":4,"rate_per_second":0}`)
	if code != http.StatusOK {
		t.Fatalf("expected workload to succeed, got %d %v", code, body)
	}
	if body["requests"] != float64(4) || body["workers"] != float64(2) {
		t.Fatalf("unexpected report %v", body)
	}
	if _, ok := body["trace_id"].(string); !ok {
		t.Fatalf("expected trace id in %v", body)
	}
}
