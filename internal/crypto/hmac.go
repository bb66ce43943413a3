package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by HMAC-signed gateway requests.
const (
	HeaderKey       = "X-Sovereign-Key"
	HeaderTimestamp = "X-Sovereign-Timestamp"
	HeaderSignature = "X-Sovereign-Signature"
)

// HMACAuth holds the API credentials for the pool gateway.
type HMACAuth struct {
	Key    string
	Secret string // base64; falls back to raw bytes if it does not decode
}

// Headers signs a request with the current time. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path string, body []byte) http.Header {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) http.Header {
	ts := strconv.FormatInt(unixTS, 10)
	hdr := make(http.Header, 3)
	hdr.Set(HeaderKey, h.Key)
	hdr.Set(HeaderTimestamp, ts)
	hdr.Set(HeaderSignature, hmacSHA256Base64(h.secret(), ts+method+path+string(body)))
	return hdr
}

// Verify reports whether sig is the signature HeadersAt would produce for
// the same request.
func (h *HMACAuth) Verify(method, path string, body []byte, ts, sig string) bool {
	want := hmacSHA256Base64(h.secret(), ts+method+path+string(body))
	return hmac.Equal([]byte(want), []byte(sig))
}

func (h *HMACAuth) secret() []byte {
	b, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		return []byte(h.Secret)
	}
	return b
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
