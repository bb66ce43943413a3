package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/crypto"
)

// Caller identity headers. The signature is EIP-191 over
// "<METHOD> <PATH> <timestamp>".
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

type callerKey struct{}

// CallerFrom returns the authenticated caller attached by Caller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(common.Address)
	return a, ok
}

// WithCaller attaches a caller to ctx.
func WithCaller(ctx context.Context, a common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

// Caller resolves X-Caller into the request context. With verify set the
// request must also carry a fresh signature by that address; otherwise the
// header is trusted as-is. Requests without X-Caller pass through
// anonymously and are rejected by the handlers that need a caller.
func Caller(verify bool, maxAge time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderCaller)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeJSONError(w, http.StatusBadRequest, "X-Caller is not a hex address")
				return
			}
			caller := common.HexToAddress(raw)

			if verify {
				ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
				if err != nil {
					writeJSONError(w, http.StatusForbidden, "missing or malformed X-Timestamp")
					return
				}
				age := now().Sub(time.Unix(ts, 0))
				if age > maxAge || age < -maxAge {
					writeJSONError(w, http.StatusForbidden, "signature expired")
					return
				}
				if err := crypto.VerifyCaller(caller, r.Method, r.URL.Path, ts, r.Header.Get(HeaderSignature)); err != nil {
					writeJSONError(w, http.StatusForbidden, "invalid caller signature")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
