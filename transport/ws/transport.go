// Package ws carries the signaling protocol over websocket text frames.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiatele/telecore/signaling"
)

type WebsocketTransport struct {
	conn         *websocket.Conn
	cc           *controlChannel
	msgOut       chan wsMessage // msgOut holds messages to be send out
	done         chan struct{}  // done is closed once the reader stops
	closing      chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	logger       *slog.Logger
}

func (w *WebsocketTransport) Closed() <-chan struct{} {
	return w.done
}

func (w *WebsocketTransport) Control() signaling.DataChannel {
	return w.cc
}

// Close sends a close frame and waits for the peer to acknowledge it. When ctx
// ends first the connection is dropped without the handshake.
func (w *WebsocketTransport) Close(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	default:
	}

	w.closeOnce.Do(func() {
		close(w.closing)
		// queued behind pending text frames so they go out first
		msg := wsMessage{
			mt:   websocket.CloseMessage,
			data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Closed"),
		}
		select {
		case w.msgOut <- msg:
		case <-w.done:
		case <-ctx.Done():
			_ = w.conn.Close()
		}
	})

	select {
	case <-ctx.Done():
		_ = w.conn.Close()
		return fmt.Errorf("close failed: %w", ctx.Err())
	case <-w.done:
		return nil
	}
}

func (w *WebsocketTransport) readLoop() {
	defer close(w.done)
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			var closing bool
			select {
			case <-w.closing:
				closing = true
			default:
			}
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("connection was closed", slog.Any("err", err))
			} else {
				w.logger.Error("read failed", slog.Any("err", err))
			}
			return
		}

		if mt != websocket.TextMessage {
			w.logger.Debug("ignoring non-text frame", slog.Int("mt", mt))
			continue
		}

		select {
		case w.cc.input <- data:
		case <-w.closing:
			// nobody reads anymore; keep draining until the peer acks the close
		}
	}
}

// processConnection runs until the connection ends. It is the single writer of
// the connection apart from control frames.
func (w *WebsocketTransport) processConnection() {
	defer func() {
		if err := w.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			w.logger.Error("connection close failed", slog.Any("err", err))
		}
		w.logger.Debug("transport processing done")
	}()

	go w.readLoop()

	pingTicker := time.NewTicker(w.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-pingTicker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout)); err != nil {
				w.logger.Error("write ping failed", slog.Any("err", err))
				return
			}

		case msg := <-w.msgOut:
			if isControl(msg.mt) {
				if err := w.conn.WriteControl(msg.mt, msg.data, time.Now().Add(controlTimeout)); err != nil {
					w.logger.Error("write control failed", slog.Any("err", err))
					return
				}
				continue
			}
			if err := w.conn.WriteMessage(msg.mt, msg.data); err != nil {
				w.logger.Error("write text failed", slog.Any("err", err))
				return
			}
		}
	}
}

var _ signaling.Transport = &WebsocketTransport{}

func newTransport(
	conn *websocket.Conn,
	logger *slog.Logger,
	pingInterval time.Duration,
) *WebsocketTransport {
	var (
		msgOut = make(chan wsMessage, 16)
		done   = make(chan struct{})
	)

	conn.SetPingHandler(func(message string) error {
		logger.Debug("received ping")
		err := conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(controlTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Timeout() {
			return nil
		}
		return err
	})

	conn.SetPongHandler(func(string) error {
		logger.Debug("received pong")
		return nil
	})

	return &WebsocketTransport{
		conn:         conn,
		cc:           newControlChannel(msgOut, done),
		msgOut:       msgOut,
		done:         done,
		closing:      make(chan struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}
