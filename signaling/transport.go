package signaling

import (
	"context"
	"errors"
)

var ErrTransportClosed = errors.New("transport: closed")

// DataChannel carries text frames of the signaling protocol.
type DataChannel interface {
	Write(ctx context.Context, data []byte) error
	ReadChan() <-chan []byte
}

type Transport interface {
	Closed() <-chan struct{}
	Control() DataChannel
	Close(ctx context.Context) error
}

// TransportFactory dials a fresh transport. It is invoked on InitSocket and on
// every reconnect attempt.
type TransportFactory func(ctx context.Context) (Transport, error)
