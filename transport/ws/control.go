package ws

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/tiatele/telecore/signaling"
)

type controlChannel struct {
	input  chan []byte
	output chan<- wsMessage
	done   <-chan struct{}
}

func (cc *controlChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-cc.done:
		return signaling.ErrTransportClosed
	default:
	}

	select {
	case cc.output <- wsMessage{mt: websocket.TextMessage, data: data}:
		return nil
	case <-cc.done:
		return signaling.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cc *controlChannel) ReadChan() <-chan []byte {
	return cc.input
}

func newControlChannel(output chan<- wsMessage, done <-chan struct{}) *controlChannel {
	return &controlChannel{
		input:  make(chan []byte, 16),
		output: output,
		done:   done,
	}
}

var _ signaling.DataChannel = &controlChannel{}
