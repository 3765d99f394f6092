package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tiatele/telecore/envelope"
)

const maxBodySize = 1 << 20

// Reply is the plaintext response envelope of an operation.
type Reply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	// Status overrides the HTTP status. The envelope is encrypted regardless.
	Status int `json:"-"`
}

func OK(data any) Reply {
	return Reply{Code: "200", Message: "success", Data: data}
}

func Fail(code, message string) Reply {
	return Reply{Code: code, Message: message}
}

// OperationFunc serves one decrypted operation.
type OperationFunc func(ctx context.Context, params map[string]any) Reply

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op := vars["service"] + "/" + vars["method"]
	logger := s.logger.With(slog.String("operation", op))

	kid := r.Header.Get(envelope.HeaderKeyID)
	if kid != s.config.KeyID {
		logger.Warn("unknown key id", slog.String("kid", kid))
		http.Error(w, "unknown key id", http.StatusUnauthorized)
		return
	}

	requestKey := r.Header.Get(envelope.HeaderIdempotencyKey)
	ts, nonce, err := envelope.SplitIdempotencyKey(requestKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if s.config.SigningKey != nil {
		sig := r.Header.Get(envelope.HeaderSignature)
		if !envelope.Verify(*s.config.SigningKey, sig, r.Method, "/"+op, ts, nonce, body) {
			logger.Warn("signature mismatch")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var in envelope.Payload
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	plain, err := envelope.Open(s.config.Key, in.Payload, envelope.BuildAAD(ts, nonce, kid, op))
	if err != nil {
		logger.Warn("decrypt failed", slog.Any("err", err))
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}

	params := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		http.Error(w, "malformed params", http.StatusBadRequest)
		return
	}

	reply := Reply{Code: "404", Message: "unknown operation", Status: http.StatusNotFound}
	if fn, ok := s.operation(op); ok {
		reply = fn(r.Context(), params)
	}
	logger.Debug("operation served", slog.String("code", reply.Code))

	s.writeReply(w, op, requestKey, reply)
}

func (s *Server) writeReply(w http.ResponseWriter, op, requestKey string, reply Reply) {
	plain, err := json.Marshal(reply)
	if err != nil {
		http.Error(w, "encode reply", http.StatusInternalServerError)
		return
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := envelope.NewNonce()
	sealed, err := envelope.Seal(s.config.Key, plain, envelope.BuildResponseAAD(ts, nonce, s.config.KeyID, op, requestKey))
	if err != nil {
		http.Error(w, "encrypt reply", http.StatusInternalServerError)
		return
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(envelope.HeaderKeyID, s.config.KeyID)
	w.Header().Set(envelope.HeaderIdempotencyKey, envelope.IdempotencyKey(ts, nonce))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope.Payload{Payload: sealed})
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (s *Server) login(_ context.Context, params map[string]any) Reply {
	userID := stringParam(params, "userId")
	if userID == "" {
		return Fail("400", "userId is required")
	}
	orgID := stringParam(params, "organizationId")

	token, err := s.tokens.issue(userID, orgID)
	if err != nil {
		return Fail("500", err.Error())
	}

	return OK(map[string]string{
		"sessionId":      token,
		"userId":         userID,
		"organizationId": orgID,
	})
}

// echo returns its params. "_code", "_message" and "_delay" (milliseconds)
// shape the reply.
func echo(ctx context.Context, params map[string]any) Reply {
	if d, err := strconv.Atoi(stringParam(params, "_delay")); err == nil && d > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(d) * time.Millisecond):
		}
	}

	reply := OK(params)
	if code := stringParam(params, "_code"); code != "" {
		reply.Code = code
	}
	if msg := stringParam(params, "_message"); msg != "" {
		reply.Message = msg
	}
	return reply
}
