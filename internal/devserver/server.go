// Package devserver emulates the remote backend for local development and
// tests: encrypted operations over HTTP plus the signaling hub over websocket.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/tiatele/telecore/envelope"
	"github.com/tiatele/telecore/signaling"
	"github.com/tiatele/telecore/transport/direct"
	"github.com/tiatele/telecore/transport/ws"
)

type Config struct {
	Key   envelope.Key
	KeyID string
	// SigningKey enables X-Signature verification.
	SigningKey *envelope.Key
	// JWTSecret signs session tokens. Empty means opaque tokens.
	JWTSecret    []byte
	TokenTTL     time.Duration
	RoomCapacity int
	AuthTimeout  time.Duration
	Logger       *slog.Logger
}

func (c *Config) Defaults() {
	if c.KeyID == "" {
		c.KeyID = "dev"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.RoomCapacity == 0 {
		c.RoomCapacity = 8
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Server struct {
	config Config
	logger *slog.Logger
	router *mux.Router
	tokens *tokenIssuer
	hub    *Hub
	socket *ws.Server

	mu  sync.RWMutex
	ops map[string]OperationFunc
}

func New(config Config) *Server {
	config.Defaults()

	s := &Server{
		config: config,
		logger: config.Logger.With(slog.String("component", "devserver")),
		tokens: &tokenIssuer{
			secret: config.JWTSecret,
			ttl:    config.TokenTTL,
			now:    time.Now,
		},
		ops: make(map[string]OperationFunc),
	}
	s.hub = newHub(s.logger, s.tokens, config.RoomCapacity, config.AuthTimeout)
	s.socket = ws.NewServer(ws.ServerConfig{
		Path:      "/socket",
		Authorize: s.authorizeUpgrade,
		Logger:    s.logger,
	})

	s.Handle("ApiTiaTeleMD/login", s.login)
	s.Handle("ApiTiaTeleMD/echo", echo)

	r := mux.NewRouter()
	r.Handle("/socket", s.socket).Methods(http.MethodGet)
	r.HandleFunc("/{service}/{method}", s.handleOperation).Methods(http.MethodPost)
	s.router = r

	return s
}

// Handle registers an operation such as "ApiTiaTeleMD/saveFormDetails".
func (s *Server) Handle(operation string, fn OperationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[operation] = fn
}

func (s *Server) operation(name string) (OperationFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.ops[name]
	return fn, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// IssueToken returns a session id as login would.
func (s *Server) IssueToken(userID, organizationID string) (string, error) {
	return s.tokens.issue(userID, organizationID)
}

// Dialer connects signaling clients to the hub in memory.
func (s *Server) Dialer(ctx context.Context) signaling.TransportFactory {
	return direct.Dialer(ctx, s.hub.Serve)
}

// authorizeUpgrade checks an optional bearer token on the websocket upgrade.
// The session.authenticate frame remains mandatory either way.
func (s *Server) authorizeUpgrade(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return nil
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return errors.New("malformed authorization header")
	}
	_, err := s.tokens.verify(token)
	return err
}

// ListenAndServe serves HTTP and the signaling hub on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubDone := make(chan error, 1)
	go func() {
		hubDone <- s.hub.Run(ctx, s.socket.Accept)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case err := <-hubDone:
		if err != nil {
			return fmt.Errorf("hub: %w", err)
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
