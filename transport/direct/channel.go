// Package direct provides an in-memory signaling transport. Both ends of a
// pipe live in the same process, which makes it the transport of choice for
// tests and for embedding the development server.
package direct

import (
	"context"
	"sync"

	"github.com/tiatele/telecore/signaling"
)

type link struct {
	closed chan struct{}
	once   sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.closed)
	})
}

type dcc struct {
	in   chan []byte
	out  chan []byte
	link *link
}

func (d *dcc) Write(ctx context.Context, data []byte) error {
	select {
	case <-d.link.closed:
		return signaling.ErrTransportClosed
	default:
	}

	select {
	case d.out <- data:
		return nil
	case <-d.link.closed:
		return signaling.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dcc) ReadChan() <-chan []byte {
	return d.in
}

var _ signaling.DataChannel = &dcc{}

type directTransport struct {
	cc *dcc
}

func (d *directTransport) Closed() <-chan struct{} {
	return d.cc.link.closed
}

// Close closes both ends of the pipe.
func (d *directTransport) Close(_ context.Context) error {
	d.cc.link.close()
	return nil
}

func (d *directTransport) Control() signaling.DataChannel {
	return d.cc
}

var _ signaling.Transport = &directTransport{}

// Pipe returns two connected transports. Closing either end closes both.
func Pipe() (signaling.Transport, signaling.Transport) {
	var (
		aToB = make(chan []byte, 32)
		bToA = make(chan []byte, 32)
		l    = &link{closed: make(chan struct{})}
	)

	a := &directTransport{cc: &dcc{in: bToA, out: aToB, link: l}}
	b := &directTransport{cc: &dcc{in: aToB, out: bToA, link: l}}
	return a, b
}

// ServeFunc handles the server end of a dialed pipe until it is closed.
type ServeFunc func(ctx context.Context, t signaling.Transport)

// Dialer returns a transport factory that creates a fresh pipe per dial and
// hands its server end to serve. serve runs until ctx is done or the pipe
// closes.
func Dialer(ctx context.Context, serve ServeFunc) signaling.TransportFactory {
	return func(dialCtx context.Context) (signaling.Transport, error) {
		if err := dialCtx.Err(); err != nil {
			return nil, err
		}
		client, server := Pipe()
		go serve(ctx, server)
		return client, nil
	}
}
