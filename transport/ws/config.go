package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type ClientConfig struct {
	Dial         DialConfig
	PingInterval time.Duration
	Logger       *slog.Logger
}

func (c *ClientConfig) Defaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	c.Dial.Defaults()
}

type DialConfig struct {
	URL string
	// AuthHeaderFunc returns the bearer token sent with the upgrade request.
	AuthHeaderFunc func(ctx context.Context) (string, error)
	ConnectTimeout time.Duration
	Headers        http.Header
}

func (d *DialConfig) Defaults() {
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = 10 * time.Second
	}
}

type ServerConfig struct {
	Addr         string
	Path         string
	PingInterval time.Duration
	// Authorize, when set, vets the upgrade request. A non-nil error rejects
	// it with 401.
	Authorize func(r *http.Request) error
	Logger    *slog.Logger
}

func (c *ServerConfig) Defaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.PingInterval == 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
