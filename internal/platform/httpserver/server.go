package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project.
// writeTimeout should exceed the per-request decision deadline.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
