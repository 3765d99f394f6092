package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiatele/telecore/proto"
	"github.com/tiatele/telecore/proto/protov1"
)

// Ping measures the application level round trip over the socket. It shares
// the single request slot with meeting requests.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	res, err := c.request(ctx, protov1.NewPingRequest(start, nil))
	if err != nil {
		return 0, err
	}
	if !res.Ok() {
		return 0, res.Error
	}

	out, err := proto.As[protov1.PingResponse](res.Result)
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	if out.T0 != start.UnixMilli() {
		return 0, fmt.Errorf("ping: response t0 %d does not match request", out.T0)
	}

	rtt := time.Since(start)
	c.logger.Debug("Client.Ping()", slog.Duration("rtt", rtt), slog.Int64("owd_ms", out.OWD))
	return rtt, nil
}
