// Package api is the operator control surface: signal ingestion, manual
// position actions, settings and status, behind a single bearer token.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/engine"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/gateway"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/monitor"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
)

// SignalService is the slice of the engine the HTTP layer needs.
type SignalService interface {
	SubmitSignal(ctx context.Context, rawText string, source signal.Source, userID string) engine.SignalReceipt
	BroadcastSignal(ctx context.Context, rawText string, source signal.Source) (engine.BroadcastSummary, error)
	CancelAllForSymbol(ctx context.Context, userID, symbol string) engine.SignalReceipt
	CloseAllForUser(ctx context.Context, userID string) ([]engine.SignalReceipt, error)
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router       *gin.Engine
	Engine       SignalService
	Settings     config.Settings
	Metrics      *monitor.SystemMetrics
	Pool         *gateway.Manager
	JWTSecret    string
	OperatorHash string
	Version      string

	startedAt time.Time
}

// Options configure NewServer.
type Options struct {
	Engine         SignalService
	Settings       config.Settings
	Metrics        *monitor.SystemMetrics
	Pool           *gateway.Manager
	JWTSecret      string
	OperatorHash   string
	Version        string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewServer builds the router with the full middleware stack.
func NewServer(opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(opts.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimitRPS, opts.RateLimitBurst)))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Engine:       opts.Engine,
		Settings:     opts.Settings,
		Metrics:      opts.Metrics,
		Pool:         opts.Pool,
		JWTSecret:    opts.JWTSecret,
		OperatorHash: opts.OperatorHash,
		Version:      opts.Version,
		startedAt:    time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signal", s.submitSignal)
			protected.POST("/signal/broadcast", s.broadcastSignal)
			protected.POST("/positions/:symbol/cancel", s.cancelSymbol)
			protected.POST("/positions/close-all", s.closeAll)
			protected.GET("/settings", s.getSettings)
			protected.GET("/status", s.getStatus)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
