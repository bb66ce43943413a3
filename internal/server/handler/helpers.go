package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/gateway"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/middleware"
)

// maxBodyBytes caps request bodies; every request type here is a handful of
// scalar fields.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to its HTTP status. Categorized domain
// errors map by category; anything unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrRejected):
		return http.StatusBadGateway
	}
	switch domain.CategoryOf(err) {
	case domain.CategoryState:
		return http.StatusConflict
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryArithmetic, domain.CategoryBalance:
		return http.StatusUnprocessableEntity
	case domain.CategoryDomain:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and replaced by a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	body := map[string]string{"error": err.Error()}
	if c := domain.CategoryOf(err); c != "" {
		body["category"] = string(c)
	}
	writeJSON(w, status, body)
}

// parseListOpts extracts pagination and time-range parameters from the query
// string. Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s must be RFC 3339", name)
		}
		*dst = &t
	}
	return opts, nil
}

// pathUint parses a numeric path parameter, writing a 400 on failure.
func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// sovereignID reads the {id} path parameter.
func sovereignID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	return pathUint(w, r, "id")
}

// requireCaller returns the authenticated caller, writing a 403 when the
// request carried none.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":    domain.ErrUnauthorized.Error() + ": X-Caller required",
			"category": string(domain.CategoryAuthorization),
		})
		return common.Address{}, false
	}
	return caller, true
}

// decodeBody decodes and validates a JSON request body into dst, writing a
// 400 on failure. An empty body decodes as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if fields := validate.Structured(dst); fields != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return false
	}
	return true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
