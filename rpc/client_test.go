package rpc_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tiatele/telecore/envelope"
	"github.com/tiatele/telecore/internal/devserver"
	"github.com/tiatele/telecore/rpc"
)

func newBackend(t *testing.T, cfg devserver.Config) (*devserver.Server, *httptest.Server) {
	t.Helper()
	if cfg.Key == (envelope.Key{}) {
		k, err := envelope.DeriveKey([]byte("test-secret"), nil, "telecore")
		require.NoError(t, err)
		cfg.Key = k
	}
	srv := devserver.New(cfg)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, hs
}

func key(t *testing.T) envelope.Key {
	t.Helper()
	k, err := envelope.DeriveKey([]byte("test-secret"), nil, "telecore")
	require.NoError(t, err)
	return k
}

func TestCallRoundTrip(t *testing.T) {
	_, hs := newBackend(t, devserver.Config{})
	c := rpc.NewClient(hs.URL, key(t), rpc.WithClientID("test"))

	params := rpc.Params{"sessionId": "s-1", "count": 3, "urgent": true}
	require.NoError(t, params.SetJSON("list", []map[string]string{{"name": "paracetamol"}}))

	res, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", params)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, rpc.Code("200"), res.Code)

	var data map[string]any
	require.NoError(t, res.Decode(&data))
	require.Equal(t, "s-1", data["sessionId"])
	require.Equal(t, `[{"name":"paracetamol"}]`, data["list"])
	require.Equal(t, true, data["urgent"])
}

func TestApplicationFailureIsAValue(t *testing.T) {
	_, hs := newBackend(t, devserver.Config{})
	c := rpc.NewClient(hs.URL, key(t))

	res, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", rpc.Params{"_code": "500", "_message": "no doctor on duty"})
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Equal(t, "no doctor on duty", res.Message)

	var appErr *rpc.ApplicationError
	require.ErrorAs(t, res.Err(), &appErr)
	require.Equal(t, rpc.Code("500"), appErr.Code)

	_, err = rpc.Do[map[string]any](context.Background(), c, "ApiTiaTeleMD/echo", rpc.Params{"_code": "401"})
	require.ErrorAs(t, err, &appErr)

	res, err = c.Call(context.Background(), "ApiTiaTeleMD/echo", rpc.Params{"_code": "100"})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, rpc.Code("100"), res.Code)
}

func TestUnknownOperationStillDecrypts(t *testing.T) {
	_, hs := newBackend(t, devserver.Config{})
	c := rpc.NewClient(hs.URL, key(t))

	res, err := c.Call(context.Background(), "X/missing", nil)
	require.NoError(t, err)
	require.Equal(t, rpc.Code("404"), res.Code)
	require.Error(t, res.Err())
}

func TestTimeoutDoesNotAffectOtherCalls(t *testing.T) {
	srv, hs := newBackend(t, devserver.Config{})
	srv.Handle("X/y", func(ctx context.Context, _ map[string]any) devserver.Reply {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return devserver.OK(nil)
	})
	srv.Handle("X/z", func(context.Context, map[string]any) devserver.Reply {
		return devserver.OK(map[string]string{"ok": "yes"})
	})

	c := rpc.NewClient(hs.URL, key(t), rpc.WithTimeout(200*time.Millisecond))

	var (
		wg      sync.WaitGroup
		slowErr error
		fastRes *rpc.Response
		fastErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, slowErr = c.Call(context.Background(), "X/y", nil)
	}()
	go func() {
		defer wg.Done()
		fastRes, fastErr = c.Call(context.Background(), "X/z", nil)
	}()
	wg.Wait()

	require.True(t, rpc.IsTimeout(slowErr), "got %v", slowErr)
	var te *rpc.TransportError
	require.ErrorAs(t, slowErr, &te)
	require.Equal(t, "X/y", te.Op)

	require.NoError(t, fastErr)
	require.True(t, fastRes.OK())
}

func TestTransportErrors(t *testing.T) {
	_, hs := newBackend(t, devserver.Config{KeyID: "prod"})

	t.Run("unknown key id", func(t *testing.T) {
		c := rpc.NewClient(hs.URL, key(t), rpc.WithKeyID("other"))
		_, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
		var te *rpc.TransportError
		require.ErrorAs(t, err, &te)
		require.Equal(t, rpc.KindStatus, te.Kind)
		require.Equal(t, http.StatusUnauthorized, te.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := envelope.RandomKey()
		require.NoError(t, err)
		c := rpc.NewClient(hs.URL, other, rpc.WithKeyID("prod"))
		_, err = c.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
		var te *rpc.TransportError
		require.ErrorAs(t, err, &te)
		require.Equal(t, rpc.KindStatus, te.Kind)
		require.Equal(t, http.StatusBadRequest, te.StatusCode)
	})

	t.Run("network", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		c := rpc.NewClient(dead.URL, key(t))
		_, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
		var te *rpc.TransportError
		require.ErrorAs(t, err, &te)
		require.Equal(t, rpc.KindNetwork, te.Kind)
	})

	t.Run("garbage body", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(envelope.HeaderIdempotencyKey, "1.n")
			_ = json.NewEncoder(w).Encode(envelope.Payload{Payload: "bm90IGEgcmVhbCBlbnZlbG9wZSBhdCBhbGwsIGp1c3Qgc29tZSBieXRlcw=="})
		}))
		defer bad.Close()
		c := rpc.NewClient(bad.URL, key(t))
		_, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
		var te *rpc.TransportError
		require.ErrorAs(t, err, &te)
		require.Equal(t, rpc.KindDecrypt, te.Kind)
		require.ErrorIs(t, err, envelope.ErrDecrypt)
	})
}

func TestInvalidInput(t *testing.T) {
	c := rpc.NewClient("http://127.0.0.1:1", key(t))

	_, err := c.Call(context.Background(), "", nil)
	require.ErrorIs(t, err, rpc.ErrEmptyOperation)

	_, err = c.Call(context.Background(), "X/y", rpc.Params{"nested": map[string]string{"a": "b"}})
	require.ErrorIs(t, err, rpc.ErrInvalidParams)
}

func TestSignedRequests(t *testing.T) {
	signing, err := envelope.DeriveKey([]byte("test-secret"), nil, "signing")
	require.NoError(t, err)
	_, hs := newBackend(t, devserver.Config{SigningKey: &signing})

	unsigned := rpc.NewClient(hs.URL, key(t))
	_, err = unsigned.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
	var te *rpc.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusUnauthorized, te.StatusCode)

	signed := rpc.NewClient(hs.URL, key(t), rpc.WithSigningKey(signing))
	res, err := signed.Call(context.Background(), "ApiTiaTeleMD/echo", nil)
	require.NoError(t, err)
	require.True(t, res.OK())
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	_, hs := newBackend(t, devserver.Config{JWTSecret: []byte("jwt-secret")})
	c := rpc.NewClient(hs.URL, key(t))

	type login struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}
	out, err := rpc.Do[login](context.Background(), c, "ApiTiaTeleMD/login", rpc.Params{"userId": "42"})
	require.NoError(t, err)
	require.Equal(t, "42", out.UserID)
	require.NotEmpty(t, out.SessionID)

	_, err = rpc.Do[login](context.Background(), c, "ApiTiaTeleMD/login", nil)
	var appErr *rpc.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, rpc.Code("400"), appErr.Code)
}

// replayingProxy forwards the first request to backend and answers every
// later one with that first reply.
func replayingProxy(t *testing.T, backend string) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		header http.Header
		body   []byte
	)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if body == nil {
			req, err := http.NewRequestWithContext(r.Context(), r.Method, backend+r.URL.Path, r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			req.Header = r.Header.Clone()
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			defer res.Body.Close()
			header = res.Header.Clone()
			body, _ = io.ReadAll(res.Body)
		}

		for k, v := range header {
			w.Header()[k] = v
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(hs.Close)
	return hs
}

func TestReplayedReplyDoesNotOpen(t *testing.T) {
	_, backend := newBackend(t, devserver.Config{})
	proxy := replayingProxy(t, backend.URL)
	c := rpc.NewClient(proxy.URL, key(t))

	res, err := c.Call(context.Background(), "ApiTiaTeleMD/echo", rpc.Params{"n": 1})
	require.NoError(t, err)
	require.True(t, res.OK())

	// same operation, same key, but the reply belongs to the first call
	_, err = c.Call(context.Background(), "ApiTiaTeleMD/echo", rpc.Params{"n": 2})
	var te *rpc.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, rpc.KindDecrypt, te.Kind)
	require.ErrorIs(t, err, envelope.ErrDecrypt)
}
