// Package httptransport builds the API's http.Server with the operational
// timeouts applied.
package httptransport

import (
	"net/http"
	"time"
)

// ServerConfig contains the server tunables exposed through configuration.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer builds an *http.Server for the handler. Zero-valued timeouts
// fall back to defaults so a partially filled config never yields a server
// without read deadlines.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 10 * time.Second
	}
	write := cfg.WriteTimeout
	if write <= 0 {
		write = 30 * time.Second
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}
}
