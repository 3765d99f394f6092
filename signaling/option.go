package signaling

import (
	"log/slog"
	"time"

	"github.com/tiatele/telecore/session"
)

type clientOptions struct {
	logger            *slog.Logger
	transport         TransportFactory
	sessions          session.Provider
	connectTimeout    time.Duration
	requestTimeout    time.Duration
	reconnectAttempts int
	reconnectBackoff  time.Duration
	reconnectMaxDelay time.Duration
	conferenceBaseURL string
	traceSize         int
}

type Option func(opts *clientOptions)

func withDefaults() Option {
	return withOptions(
		WithLogger(slog.Default()),
		WithConnectTimeout(10*time.Second),
		WithRequestTimeout(5*time.Second),
		WithReconnect(5, 500*time.Millisecond),
		WithTraceSize(16*1024),
	)
}

func withOptions(os ...Option) Option {
	return func(opts *clientOptions) {
		for _, o := range os {
			o(opts)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

func WithTransportFactory(f TransportFactory) Option {
	return func(opts *clientOptions) {
		opts.transport = f
	}
}

// WithSession sets where the client reads the session snapshot used for the
// handshake and for join/create requests.
func WithSession(p session.Provider) Option {
	return func(opts *clientOptions) {
		opts.sessions = p
	}
}

// WithConnectTimeout bounds dial plus authentication handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(opts *clientOptions) {
		opts.connectTimeout = timeout
	}
}

// WithRequestTimeout bounds each join/create request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *clientOptions) {
		opts.requestTimeout = timeout
	}
}

// WithReconnect configures automatic reconnection after a dropped connection.
// Zero attempts disables it. The delay doubles after each failed attempt.
func WithReconnect(attempts int, backoff time.Duration) Option {
	return func(opts *clientOptions) {
		opts.reconnectAttempts = attempts
		opts.reconnectBackoff = backoff
		opts.reconnectMaxDelay = 30 * time.Second
	}
}

// WithConferenceBaseURL sets the URL room references are resolved against
// (the stored apiGroupCallURL).
func WithConferenceBaseURL(u string) Option {
	return func(opts *clientOptions) {
		opts.conferenceBaseURL = u
	}
}

// WithTraceSize sets the byte size of the frame trace. Zero disables tracing.
func WithTraceSize(size int) Option {
	return func(opts *clientOptions) {
		opts.traceSize = size
	}
}
