package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/nxipc/internal/config"
	"github.com/danmuck/nxipc/internal/hostsim"
	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/observability"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const recorderLimit = 512

// Sim is one booted host plus the client side that talks to it.
type Sim struct {
	ID       string
	Addr     string
	Appeared time.Time

	Config   config.Config
	Host     *hostsim.Host
	Recorder *kernel.Recorder
	Registry *services.ServiceRegistry

	log    zerolog.Logger
	router *gin.Engine

	// callMu serializes calls on the registry's shared sessions.
	callMu sync.Mutex
}

// New boots the host services on a fresh loopback kernel. Clients reach the
// kernel through a Recorder so every call shows up under /calls.
func New(id string, cfg config.Config, log zerolog.Logger) (*Sim, error) {
	sc, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	hcfg := hostsim.DefaultConfig()
	hcfg.Dialect = loopback.CMIF
	if sc.Dialect == session.DialectTIPC {
		hcfg.Dialect = loopback.TIPC
	}
	hcfg.PointerBufferSize = uint16(cfg.Sim.PointerBufferSize)
	hcfg.SMDelay = cfg.Sim.SMDelay

	k := loopback.New(log)
	host, err := hostsim.Boot(k, hcfg, log)
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	rec := kernel.NewRecorder(k, recorderLimit, log)

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Sim{
		ID:       id,
		Addr:     cfg.MetricsAddr,
		Appeared: time.Now(),
		Config:   cfg,
		Host:     host,
		Recorder: rec,
		Registry: services.NewServiceRegistry(rec, session.WithConfig(sc), session.WithLogger(log)),
		log:      log,
		router:   r,
	}, nil
}

func (s *Sim) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve registers the routes and blocks serving them on s.Addr.
func (s *Sim) Serve() error {
	s.RegisterRoutes()
	return s.router.Run(s.Addr)
}

func (s *Sim) Close() error {
	return s.Registry.Close()
}
