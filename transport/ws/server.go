package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tiatele/telecore/signaling"
)

type Server struct {
	logger   *slog.Logger
	config   ServerConfig
	upgrader websocket.Upgrader
	c        chan signaling.Transport
	port     int
	http     *http.Server
	listener net.Listener
}

// ServeHTTP upgrades the request and hands the transport to Accept. It returns
// once the connection ends, so it can be mounted on any router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("path", r.URL.Path),
	)

	if s.config.Authorize != nil {
		if err := s.config.Authorize(r); err != nil {
			logger.Warn("upgrade rejected", slog.Any("err", err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	logger.Debug("handling websocket upgrade")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("upgrade failed", slog.Any("err", err))
		return
	}

	t := newTransport(conn, logger, s.config.PingInterval)
	select {
	case s.c <- t:
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	t.processConnection()
}

// Accept waits for the next upgraded connection.
func (s *Server) Accept(ctx context.Context) (signaling.Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-s.c:
		return t, nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) Port() int {
	return s.port
}

// Run listens on the configured address and serves in the background.
func (s *Server) Run(ctx context.Context) error {
	var err error
	s.listener, err = net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
		s.logger = s.logger.With(slog.String("addr", tcpAddr.String()))
	}

	s.logger.Info("listening")

	ready := make(chan struct{})
	serveErr := make(chan error, 1)
	go func() {
		close(ready)
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	case err := <-serveErr:
		return err
	}
}

func NewServer(config ServerConfig) *Server {
	config.Defaults()

	s := &Server{
		logger: config.Logger.With(
			slog.String("transport", "websocket"),
			slog.String("component", "server"),
		),
		config: config,
		c:      make(chan signaling.Transport, 1),
	}

	mux := http.NewServeMux()
	mux.Handle(config.Path, s)

	s.http = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}

	return s
}
