// Package httpserver builds the process's HTTP server. The surface is small:
// the review API, case lookups, the health probe, and metrics.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with timeouts suited to the short-lived JSON requests
// this service handles. The header timeout bounds slow-loris clients; idle
// keep-alive connections are reaped after a minute.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
