package httpclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
)

// HeaderIdempotencyKey is sent on every attempt of a logical request.
const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyKey fingerprints a logical request. JSON bodies are canonicalized
// (object keys sorted, number text preserved) so re-serialized payloads hash
// the same; any other body is hashed as-is.
func IdempotencyKey(method, url string, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, strings.ToUpper(strings.TrimSpace(method)))
	_, _ = io.WriteString(h, "\n")
	_, _ = io.WriteString(h, url)
	_, _ = io.WriteString(h, "\n")
	_, _ = h.Write(canonicalBody(body))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	if _, err := dec.Token(); err != io.EOF {
		return body
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
