package simulator

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrUnknownMode = errors.New("simulator: unknown performance mode")

type callInfo struct {
	ID          string        `json:"id"`
	Op          string        `json:"op"`
	Handle      string        `json:"handle"`
	MessageType uint16        `json:"message_type"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

func (s *Sim) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/services", func(c *gin.Context) {
		initialized := s.Registry.Initialized()
		names := make([]string, 0, len(initialized))
		for _, id := range initialized {
			names = append(names, id.String())
		}
		c.JSON(http.StatusOK, gin.H{
			"registered":  s.Host.Services(),
			"initialized": names,
			"clients":     s.Host.Clients(),
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		st := s.Host.Kernel().Stats()
		c.JSON(http.StatusOK, gin.H{
			"requests":       st.Requests,
			"close_messages": st.CloseMessages,
			"handles_closed": st.HandlesClosed,
			"open_sessions":  st.OpenSessions,
		})
	})

	r.GET("/calls", func(c *gin.Context) {
		calls := s.Recorder.Calls()
		out := make([]callInfo, 0, len(calls))
		for _, call := range calls {
			info := callInfo{
				ID:          call.ID.String(),
				Op:          call.Op,
				Handle:      call.Handle.String(),
				MessageType: call.MessageType,
				Started:     call.Started,
				Duration:    call.Duration,
			}
			if call.Err != nil {
				info.Error = call.Err.Error()
			}
			out = append(out, info)
		}
		c.JSON(http.StatusOK, gin.H{"calls": out})
	})

	r.GET("/firmware", func(c *gin.Context) {
		s.callMu.Lock()
		defer s.callMu.Unlock()
		client, err := s.Registry.SetSys(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		fw, err := client.GetFirmwareVersion()
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"firmware": fw.String(), "version": fw})
	})

	r.GET("/performance", func(c *gin.Context) {
		s.callMu.Lock()
		defer s.callMu.Unlock()
		m, err := s.Registry.APM(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		mode, err := m.GetPerformanceMode()
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mode": mode.String()})
	})

	r.POST("/performance/:mode", func(c *gin.Context) {
		mode, err := parseMode(c.Param("mode"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.Host.SetPerformanceMode(mode)
		s.log.Info().Stringer("mode", mode).Msg("performance mode changed")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode.String()})
	})

	r.POST("/workload", func(c *gin.Context) {
		w := s.DefaultWorkload()
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&w); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		report, err := s.Run(c.Request.Context(), w)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func parseMode(raw string) (apm.PerformanceMode, error) {
	switch raw {
	case apm.PerformanceModeNormal.String():
		return apm.PerformanceModeNormal, nil
	case apm.PerformanceModeBoost.String():
		return apm.PerformanceModeBoost, nil
	default:
		return apm.PerformanceModeInvalid, ErrUnknownMode
	}
}
