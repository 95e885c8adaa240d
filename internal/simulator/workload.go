package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Workload is a batch of apm requests spread over parallel sessions.
type Workload struct {
	Workers  int `json:"workers"`
	Requests int `json:"requests"`
	// RatePerSecond paces requests across all workers; 0 disables pacing.
	RatePerSecond float64 `json:"rate_per_second"`
}

// Report summarizes one workload run.
type Report struct {
	TraceID  uuid.UUID      `json:"trace_id"`
	Dialect  string         `json:"dialect"`
	Workers  int            `json:"workers"`
	Requests int            `json:"requests"`
	Sessions int            `json:"sessions"`
	Modes    map[string]int `json:"modes"`
	Failures map[string]int `json:"failures,omitempty"`
	Elapsed  time.Duration  `json:"elapsed"`
}

func (s *Sim) DefaultWorkload() Workload {
	return Workload{
		Workers:       s.Config.Sim.Workers,
		Requests:      s.Config.Sim.Requests,
		RatePerSecond: s.Config.Sim.RatePerSecond,
	}
}

// Run gives each worker its own apm session and splits w.Requests between
// them. Request failures are counted by error class; only failing to set
// up a worker's session aborts the run.
func (s *Sim) Run(ctx context.Context, w Workload) (Report, error) {
	if w.Workers < 1 {
		return Report{}, fmt.Errorf("simulator: workers must be at least 1")
	}
	s.callMu.Lock()
	base, err := s.Registry.APM(ctx)
	s.callMu.Unlock()
	if err != nil {
		return Report{}, fmt.Errorf("simulator: apm: %w", err)
	}

	report := Report{
		TraceID: uuid.New(),
		Dialect: base.Service().Dialect().String(),
		Workers: w.Workers,
		Modes:   make(map[string]int),
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if w.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.RatePerSecond), w.Workers)
	}
	logger := s.log.With().Str("trace_id", report.TraceID.String()).Logger()
	logger.Info().Int("workers", w.Workers).Int("requests", w.Requests).Float64("rate", w.RatePerSecond).Msg("workload started")

	var mu sync.Mutex
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Workers; i++ {
		n := w.Requests / w.Workers
		if i < w.Requests%w.Workers {
			n++
		}
		worker := i
		g.Go(func() error {
			m, err := s.workerManager(gctx, base)
			if err != nil {
				return fmt.Errorf("simulator: worker %d: %w", worker, err)
			}
			defer m.Close()
			mu.Lock()
			report.Sessions++
			mu.Unlock()

			for j := 0; j < n; j++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				mode, err := m.GetPerformanceMode()
				mu.Lock()
				report.Requests++
				if err != nil {
					if report.Failures == nil {
						report.Failures = make(map[string]int)
					}
					report.Failures[protocol.Classify(err).String()]++
				} else {
					report.Modes[mode.String()]++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	report.Elapsed = time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Msg("workload aborted")
		return report, err
	}
	logger.Info().Int("requests", report.Requests).Dur("elapsed", report.Elapsed).Msg("workload finished")
	return report, nil
}

// workerManager clones the shared apm session on CMIF. TIPC has no control
// requests, so each worker asks sm for a session of its own.
func (s *Sim) workerManager(ctx context.Context, base *apm.Manager) (*apm.Manager, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if base.Service().Dialect() == session.DialectCMIF {
		svc, err := base.Service().TryClone()
		if err != nil {
			return nil, err
		}
		return apm.New(svc), nil
	}
	c, err := s.Registry.SM(ctx)
	if err != nil {
		return nil, err
	}
	return apm.Open(c)
}
