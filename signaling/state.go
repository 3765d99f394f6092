package signaling

import "log/slog"

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// setStateLocked must be called with c.mu held.
func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug("Client.setState", slog.Any("from", c.state), slog.Any("to", state))
	c.state = state
	c.publishLocked(Notification{State: state})
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionStatus reports whether the client is connected right now. It never
// triggers a connection attempt.
func (c *Client) ConnectionStatus() bool {
	return c.State() == StateConnected
}
