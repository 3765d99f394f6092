package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/tiatele/telecore/signaling"
)

func (d *DialConfig) doDial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	d.Defaults()

	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, nil, err
	}

	var header = http.Header{}
	if d.AuthHeaderFunc != nil {
		authToken, err := d.AuthHeaderFunc(ctx)
		if err != nil {
			return nil, nil, err
		}
		if authToken != "" {
			header.Add("Authorization", fmt.Sprintf("Bearer %s", authToken))
		}
	}
	for k, v := range d.Headers {
		for _, vv := range v {
			header.Add(k, vv)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.ConnectTimeout)
	defer cancel()
	return websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
}

// doConnect dials the endpoint. The returned transport outlives ctx, which
// only bounds the upgrade.
func (c *ClientConfig) doConnect(ctx context.Context) (*WebsocketTransport, error) {
	c.Defaults()

	logger := c.Logger.With(
		slog.String("transport", "websocket"),
		slog.String("component", "client"),
		slog.String("endpoint", c.Dial.URL),
	)

	logger.Debug("Connecting to websocket endpoint")

	conn, resp, err := c.Dial.doDial(ctx)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket upgrade failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	logger = logger.With(
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)
	logger.Debug("Websocket connection established")

	t := newTransport(conn, logger, c.PingInterval)
	go t.processConnection()

	return t, nil
}

// Client returns a factory dialing a new websocket per call.
func Client(config ClientConfig) signaling.TransportFactory {
	return func(ctx context.Context) (signaling.Transport, error) {
		return config.doConnect(ctx)
	}
}
