package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HTTP headers carrying envelope metadata.
const (
	HeaderKeyID          = "X-Kid"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderClientID       = "X-Client-Id"
	HeaderSignature      = "X-Signature"
)

// Payload is the JSON body of every encrypted request and response.
type Payload struct {
	Payload string `json:"payload"`
}

// IdempotencyKey formats "<timestamp>.<nonce>".
func IdempotencyKey(timestamp, nonce string) string {
	return timestamp + "." + nonce
}

// SplitIdempotencyKey parses an IdempotencyKey value.
func SplitIdempotencyKey(v string) (timestamp, nonce string, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("envelope: malformed idempotency key %q", v)
	}
	return parts[0], parts[1], nil
}

// Marshal serializes params deterministically. Map keys are emitted in sorted
// order, so equal maps always produce equal bytes.
func Marshal(params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(params)
}

// Sign computes the request signature:
//
//	HMAC-SHA256(key, "METHOD\npath\ntimestamp\nnonce\nhex(sha256(body))")
func Sign(key Key, method, path, timestamp, nonce string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
		strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(bodyHash[:]))

	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(key Key, signature, method, path, timestamp, nonce string, body []byte) bool {
	want := Sign(key, method, path, timestamp, nonce, body)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(want))
}
