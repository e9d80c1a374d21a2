// Package api exposes the agent's local HTTP control surface.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/playback"
	"github.com/shotchain/shotchain-agent/internal/run"
	"github.com/shotchain/shotchain-agent/internal/video"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Repository run.Repository
	Runner     *run.Runner
	Builder    *plan.Builder
	Doctor     *video.Doctor
	Clips      *playback.ClipServer
	DefaultFPS float64

	// DefaultWidth/DefaultHeight apply when a run request carries no
	// dimensions of its own; zero means no configured override.
	DefaultWidth  int
	DefaultHeight int

	Logger     *slog.Logger
	StartTime  time.Time
	DeviceID   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
