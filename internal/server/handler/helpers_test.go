package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/gateway"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("sovereign 1 is bonding: %w", domain.ErrInvalidState), http.StatusConflict},
		{domain.ErrNotCreator, http.StatusForbidden},
		{domain.ErrOverflow, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientVaultBalance, http.StatusUnprocessableEntity},
		{domain.ErrFeeTooHigh, http.StatusBadRequest},
		{fmt.Errorf("pool_swapExactIn: %w", gateway.ErrRejected), http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestAmount_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Amount{"a": 1_500_000_000, "b": 0, "c": 18_446_744_073_709_551_615})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"a": {"raw": "1500000000", "display": "1.5"},
		"b": {"raw": "0", "display": "0"},
		"c": {"raw": "18446744073709551615", "display": "18446744073.709551615"}
	}`, string(b))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=9000&offset=-3&since=2026-03-01T00:00:00Z", nil)
	opts, err := parseListOpts(r)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Until)

	_, err = parseListOpts(httptest.NewRequest(http.MethodGet, "/x?until=tomorrow", nil))
	assert.EqualError(t, err, "until must be RFC 3339")
}

func TestValidator_JSONFieldNames(t *testing.T) {
	fields := validate.Structured(&createSovereignRequest{Type: "byo_token", BondTarget: 1, BondDurationDays: 40, TokenMint: "0x12"})
	assert.Equal(t, "Must be at most 30", fields["bond_duration_days"])
	assert.Equal(t, "Must be a 0x-prefixed 20-byte hex address", fields["token_mint"])
	assert.Equal(t, "This field is required", fields["deposit_amount"])
	assert.NotContains(t, fields, "token_name")

	assert.Nil(t, validate.Structured(&voteRequest{TokenID: "t", Support: new(bool)}))
}
