// Package server exposes the ingestor's operational HTTP endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"feedwatch/internal/circuitbreaker"
	"feedwatch/internal/domain"
)

const shutdownTimeout = 5 * time.Second

type Pinger interface {
	PingContext(ctx context.Context) error
}

type WatermarkLister interface {
	List(ctx context.Context) ([]domain.Watermark, error)
}

type BreakerReporter interface {
	BreakerStats() map[string]circuitbreaker.Stats
}

type Deps struct {
	DB         Pinger
	Watermarks WatermarkLister
	Breakers   BreakerReporter
	Metrics    http.Handler
}

type Server struct {
	router *gin.Engine
	server *http.Server
	deps   Deps
	logger *slog.Logger
}

func New(addr string, deps Deps, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	s.router.Use(gin.Recovery())
	s.routes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/sources", s.sources)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sourceStatus struct {
	Source      string     `json:"source"`
	Watermark   int64      `json:"watermark"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Breaker     string     `json:"breaker"`
	Failures    int        `json:"failures"`
	OpenTimeout string     `json:"open_timeout,omitempty"`
}

func (s *Server) sources(c *gin.Context) {
	statuses := make(map[string]*sourceStatus)
	get := func(id string) *sourceStatus {
		st, ok := statuses[id]
		if !ok {
			st = &sourceStatus{Source: id, Breaker: circuitbreaker.StateClosed.String()}
			statuses[id] = st
		}
		return st
	}

	if s.deps.Breakers != nil {
		for id, stats := range s.deps.Breakers.BreakerStats() {
			st := get(id)
			st.Breaker = stats.State.String()
			st.Failures = stats.Failures
			if stats.State != circuitbreaker.StateClosed {
				st.OpenTimeout = stats.OpenTimeout.String()
			}
		}
	}

	if s.deps.Watermarks != nil {
		watermarks, err := s.deps.Watermarks.List(c.Request.Context())
		if err != nil {
			s.logger.Error("list watermarks failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list watermarks failed"})
			return
		}
		for _, w := range watermarks {
			st := get(w.SourceID)
			st.Watermark = w.LastSeen
			updated := w.UpdatedAt
			st.UpdatedAt = &updated
		}
	}

	out := make([]*sourceStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })

	c.JSON(http.StatusOK, gin.H{"sources": out})
}
