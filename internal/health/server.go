// Package health serves the worker's operational HTTP surface: liveness,
// readiness, Prometheus metrics, and pprof. This is not a domain API — the
// event store itself has no HTTP surface — it exists purely so an
// eventstore-worker process can be probed and profiled in production.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"github.com/valyala/fasthttp/pprofhandler"
)

// Server is a minimal fasthttp server exposing /healthz, /readyz, /metrics,
// and /debug/pprof/*.
type Server struct {
	db       *sql.DB
	registry *prometheus.Registry
	inner    *fasthttp.Server
	addr     string
}

// New builds a health server bound to addr. db is pinged for /readyz;
// registry's collectors are served at /metrics.
func New(addr string, db *sql.DB, registry *prometheus.Registry) *Server {
	s := &Server{db: db, registry: registry, addr: addr}
	s.inner = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "eventstore-worker",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until ctx is canceled, at which point it
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.inner.ListenAndServe(s.addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.inner.Shutdown()
	}
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())

	switch {
	case path == "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		fmt.Fprint(ctx, `{"status":"ok"}`)

	case path == "/readyz":
		if err := s.db.PingContext(ctx); err != nil {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			fmt.Fprintf(ctx, `{"status":"not ready","error":%q}`, err.Error())
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		fmt.Fprint(ctx, `{"status":"ready"}`)

	case path == "/metrics":
		fasthttpadaptor.NewFastHTTPHandlerFunc(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP,
		)(ctx)

	case len(path) >= 13 && path[:13] == "/debug/pprof/":
		pprofhandler.PprofHandler(ctx)

	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetContentType("application/json")
		fmt.Fprint(ctx, `{"error":"not found"}`)
	}
}
