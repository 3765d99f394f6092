package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tiatele/telecore/envelope"
)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	keyID      string
	clientID   string
	signingKey *envelope.Key
	now        func() time.Time
}

type Option func(opts *clientOptions)

func withDefaults() Option {
	return withOptions(
		WithHTTPClient(http.DefaultClient),
		WithTimeout(30*time.Second),
		WithLogger(slog.Default()),
		WithKeyID("dev"),
		WithClock(time.Now),
	)
}

func withOptions(os ...Option) Option {
	return func(opts *clientOptions) {
		for _, o := range os {
			o(opts)
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(opts *clientOptions) {
		opts.httpClient = c
	}
}

// WithTimeout bounds each call, including reading the response.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *clientOptions) {
		opts.timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// WithKeyID sets the X-Kid header naming the shared key.
func WithKeyID(kid string) Option {
	return func(opts *clientOptions) {
		opts.keyID = kid
	}
}

func WithClientID(id string) Option {
	return func(opts *clientOptions) {
		opts.clientID = id
	}
}

// WithSigningKey adds an X-Signature HMAC to every request.
func WithSigningKey(key envelope.Key) Option {
	return func(opts *clientOptions) {
		opts.signingKey = &key
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *clientOptions) {
		opts.now = now
	}
}
