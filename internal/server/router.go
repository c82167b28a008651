package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/session"
)

// StatusSource provides the snapshot served on /status.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// Router provides embeddable HTTP handlers exposing the running session.
// Endpoints:
//
//	GET {basePath}/status   JSON snapshot of the session
//	GET {basePath}/healthz  liveness of the supervisor itself
//	GET {basePath}/metrics  Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	metrics  http.Handler
	basePath string
}

// NewRouter constructs a Router. A nil metricsHandler serves the default
// Prometheus registry.
func NewRouter(src StatusSource, metricsHandler http.Handler, basePath string) *Router {
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}
	return &Router{src: src, metrics: metricsHandler, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(r.metrics))
	return g
}

// NewServer listens on addr and serves the router in the background. The
// returned server's Addr holds the bound address, so ":0" can be used.
func NewServer(addr, basePath string, src StatusSource, metricsHandler http.Handler) (*http.Server, error) {
	r := NewRouter(src, metricsHandler, basePath)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if r.src == nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "no session"})
		return
	}
	c.JSON(http.StatusOK, r.src.Snapshot())
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, okResp{OK: true})
}

// sanitizeBase normalizes a mount prefix to "" or "/a/b".
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}
