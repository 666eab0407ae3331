// Package web exposes the coordinator over a localhost JSON API for an
// external UI to consume.
package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/app"
)

// NewServer creates and configures the HTTP server for the JSON API.
func NewServer(a *app.App, database *sql.DB, logger *log.Logger, bind string, port int) *http.Server {
	h := &Handlers{
		app:    a,
		db:     database,
		logger: logger,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("POST /fetch", h.HandleFetch)
	mux.HandleFunc("POST /generate", h.HandleGenerate)
	mux.HandleFunc("POST /abort", h.HandleAbort)
	mux.HandleFunc("POST /abort-all", h.HandleAbortAll)
	mux.HandleFunc("POST /session/clear", h.HandleClearSession)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /history", h.HandleHistory)
	mux.HandleFunc("GET /history/{id}/preview", h.HandlePreview)

	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *log.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("API running", "addr", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
