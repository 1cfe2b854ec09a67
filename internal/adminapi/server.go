// Package adminapi exposes a small read-only HTTP status surface over a
// role's worker list: process status, the known worker set, and the ring
// ordered by range. It is optional tooling, never on the insert/lookup
// path, and is safe to leave disabled in production (see config.AdminConfig).
package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kiloop/keyindex/internal/workerlist"
)

// Server is the read-only admin/status REST server for a master or worker
// process.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to host:port, serving status over list.
// role is "master" or "worker" and is echoed in GET /status.
func New(logger *slog.Logger, host string, port int, role string, list *workerlist.List) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := newHandler(list, role)
	registerRoutes(engine, h)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

func registerRoutes(r *gin.Engine, h *Handler) {
	r.GET("/status", h.status)
	r.GET("/workers", h.workers)
	r.GET("/ring", h.ring)
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
