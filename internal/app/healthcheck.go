package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// healthHandler logs and answers a liveness probe.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.log.Debug("app: health check endpoint hit", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// runHealthcheckServer starts the health check HTTP server and blocks until
// ctx is canceled or the server fails unexpectedly, then shuts it down
// gracefully. Intended to run under an errgroup.Group.
func (a *App) runHealthcheckServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)

	addr := fmt.Sprintf(":%d", a.cfg.HealthcheckPort)
	a.httpServer = &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("app: health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.log.Info("app: shutting down health check server")
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: health check server shutdown: %w", err)
		}
		return nil
	}
}
