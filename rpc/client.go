// Package rpc is the encrypted request client. Every call seals its params
// into an envelope, posts it to <base>/<operation> and opens the response
// envelope. A response whose code is not a success is returned as a value;
// only failures to obtain a response are errors.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tiatele/telecore/envelope"
)

const maxResponseSize = 8 << 20

// Client is safe for concurrent use. It holds no per-call state.
type Client struct {
	baseURL    string
	key        envelope.Key
	keyID      string
	clientID   string
	signingKey *envelope.Key
	http       *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(baseURL string, key envelope.Key, opts ...Option) *Client {
	var o clientOptions
	withDefaults()(&o)
	withOptions(opts...)(&o)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		keyID:      o.keyID,
		clientID:   o.clientID,
		signingKey: o.signingKey,
		http:       o.httpClient,
		timeout:    o.timeout,
		logger:     o.logger.With(slog.String("component", "rpc")),
		now:        o.now,
	}
}

// Call performs one encrypted round trip. Params are never logged.
func (c *Client) Call(ctx context.Context, operation string, params Params) (*Response, error) {
	op := strings.Trim(operation, "/")
	if op == "" {
		return nil, ErrEmptyOperation
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	plain, err := envelope.Marshal(params)
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindEncode, Err: err}
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := envelope.NewNonce()
	sealed, err := envelope.Seal(c.key, plain, envelope.BuildAAD(ts, nonce, c.keyID, op))
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindEncode, Err: err}
	}
	body, err := json.Marshal(envelope.Payload{Payload: sealed})
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindEncode, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindEncode, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(envelope.HeaderKeyID, c.keyID)
	requestKey := envelope.IdempotencyKey(ts, nonce)
	req.Header.Set(envelope.HeaderIdempotencyKey, requestKey)
	if c.clientID != "" {
		req.Header.Set(envelope.HeaderClientID, c.clientID)
	}
	if c.signingKey != nil {
		req.Header.Set(envelope.HeaderSignature, envelope.Sign(*c.signingKey, http.MethodPost, "/"+op, ts, nonce, body))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(ctx, op, resp.StatusCode, err)
	}

	out, err := c.open(op, requestKey, resp.Header, raw)
	if err != nil {
		kind := KindDecrypt
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			kind = KindStatus
		}
		return nil, &TransportError{Op: op, Kind: kind, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("call done",
		slog.String("operation", op),
		slog.Int("status", resp.StatusCode),
		slog.String("code", string(out.Code)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func transportError(ctx context.Context, op string, status int, err error) *TransportError {
	kind := KindNetwork
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &TransportError{Op: op, Kind: kind, StatusCode: status, Err: err}
}

// open decrypts a response body. The AAD is rebuilt from the response's own
// key id and idempotency key plus the key of the request it answers.
func (c *Client) open(op, requestKey string, h http.Header, raw []byte) (*Response, error) {
	var p envelope.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if p.Payload == "" {
		return nil, errors.New("malformed envelope: empty payload")
	}

	kid := h.Get(envelope.HeaderKeyID)
	if kid == "" {
		kid = c.keyID
	}
	ts, nonce, err := envelope.SplitIdempotencyKey(h.Get(envelope.HeaderIdempotencyKey))
	if err != nil {
		return nil, err
	}

	plain, err := envelope.Open(c.key, p.Payload, envelope.BuildResponseAAD(ts, nonce, kid, op, requestKey))
	if err != nil {
		return nil, err
	}

	var out Response
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	return &out, nil
}

// Do calls operation and decodes the data of a successful response into T.
// A failure code is returned as *ApplicationError.
func Do[T any](ctx context.Context, c *Client, operation string, params Params) (*T, error) {
	res, err := c.Call(ctx, operation, params)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	var out T
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
