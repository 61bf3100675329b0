// Package httpserver builds the admin, health and metrics HTTP server.
package httpserver

import (
	"net/http"
	"time"

	"gatekeeper/internal/platform/config"
)

const defaultReadHeaderTimeout = 5 * time.Second

// New returns a server for handler using the timeouts in cfg. A zero header
// timeout falls back to five seconds; zero write and idle timeouts mean no
// limit.
func New(cfg config.Server, handler http.Handler) *http.Server {
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = defaultReadHeaderTimeout
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
