package frontend

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	humanize "github.com/dustin/go-humanize"
	proxyproto "github.com/pires/go-proxyproto"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/guard"
)

const cleanupInterval = 5 * time.Minute

// Server listens for front-end connections from external clients and runs
// the admission pipeline for each request. It also owns the periodic guard
// cleanup task, which runs on a fixed interval independent of request
// handling.
type Server struct {
	Config  *config.Config
	Handler http.Handler
	Guard   *guard.Guard
	Logger  *log.Logger
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails.
func (svr *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", svr.Config.Server.ListenAddress)
	if err != nil {
		return err
	}

	if svr.Config.Server.ProxyProtocol {
		listener = &proxyproto.Listener{Listener: listener}
	}

	httpServer := &http.Server{
		Handler:  svr.Handler,
		ErrorLog: svr.Logger,
	}

	svr.logStartup()

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go svr.runCleanup(cleanupCtx)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			svr.Logger.Printf("http: graceful shutdown failed: %v", err)
		}
	}()

	err = httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// runCleanup invokes the guard's periodic compaction on a fixed wall-clock
// interval until the server stops.
func (svr *Server) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svr.Guard.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (svr *Server) logStartup() {
	svr.Logger.Printf("http: Listening on %s", svr.Config.Server.ListenAddress)
	svr.Logger.Printf("http: Forwarding to %s", svr.Config.Proxy.Upstream)
	svr.Logger.Printf(
		"http: Limits: max body %s, default timeout %s, rate limit %d/min burst %d",
		humanize.IBytes(svr.Config.Limits.MaxBodySize),
		svr.Config.DefaultTimeout(),
		svr.Config.RateLimit.RequestsPerMinute,
		svr.Config.RateLimit.BurstSize,
	)

	for _, rule := range svr.Config.TimeoutOverrides {
		svr.Logger.Printf(
			"http: Timeout override: %s -> %ds",
			rule.Path,
			rule.TimeoutSecs,
		)
	}
}
