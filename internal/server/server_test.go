package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/handler"
	"github.com/alanyoungcy/sovereign-liquidity/internal/server/middleware"
	"github.com/alanyoungcy/sovereign-liquidity/internal/service"
	"github.com/alanyoungcy/sovereign-liquidity/internal/sim"
	"github.com/alanyoungcy/sovereign-liquidity/internal/store/memory"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	creator   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000d3")
)

type apiFixture struct {
	t       *testing.T
	h       http.Handler
	custody *sim.Custody
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	custody := sim.NewCustody(false)
	for _, a := range []common.Address{creator, alice, bob, carol} {
		custody.Fund(a, 0, domain.AssetFunding, 100_000_000)
	}
	audit := memory.NewAuditStore()
	svc := service.NewSovereignService(memory.New(), sim.NewPool(0), custody, nil, logger).WithAudit(audit)

	h := NewHandler(Config{}, Handlers{
		Health:      handler.NewHealthHandler("full", nil, logger),
		Protocol:    handler.NewProtocolHandler(svc, logger),
		Sovereigns:  handler.NewSovereignHandler(svc, logger),
		Fees:        handler.NewFeeHandler(svc, logger),
		Governance:  handler.NewGovernanceHandler(svc, logger),
		Emergency:   handler.NewEmergencyHandler(svc, logger),
		ClaimTokens: handler.NewClaimTokenHandler(svc, logger),
		Audit:       handler.NewAuditHandler(audit, logger),
	}, nil, nil, logger)
	return &apiFixture{t: t, h: h, custody: custody}
}

// do sends a request as caller (zero address for anonymous) and decodes the
// JSON response.
func (f *apiFixture) do(method, path string, caller common.Address, body any) (int, map[string]any) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, path, rd)
	if caller != (common.Address{}) {
		r.Header.Set(middleware.HeaderCaller, caller.Hex())
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, r)

	var out map[string]any
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func raw(v any) string {
	return v.(map[string]any)["raw"].(string)
}

func (f *apiFixture) bootstrap() {
	f.t.Helper()
	code, body := f.do(http.MethodPost, "/api/protocol/init", authority, map[string]any{
		"treasury":        treasury.Hex(),
		"min_fee":         1_000,
		"min_bond_target": 1_000,
		"min_deposit":     100,
	})
	require.Equal(f.t, http.StatusCreated, code, body)

	code, body = f.do(http.MethodPost, "/api/sovereigns", creator, map[string]any{
		"type":               "token_launch",
		"bond_target":        1 << 20,
		"bond_duration_days": 14,
		"token_name":         "Sovereign",
		"token_symbol":       "SOV",
		"token_supply":       1_310_720,
		"sell_fee_bps":       100,
	})
	require.Equal(f.t, http.StatusCreated, code, body)
	require.Equal(f.t, float64(1), body["id"])
}

func TestAPI_BondAndFinalize(t *testing.T) {
	f := newAPIFixture(t)
	f.bootstrap()

	code, body := f.do(http.MethodPost, "/api/sovereigns/1/pledge", creator, map[string]any{"amount": 10_000})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0", raw(body["total_deposited"]))

	code, body = f.do(http.MethodPost, "/api/sovereigns/1/pledge", alice, map[string]any{"amount": 786_432})
	require.Equal(t, http.StatusOK, code, body)
	code, body = f.do(http.MethodPost, "/api/sovereigns/1/pledge", bob, map[string]any{"amount": 300_000})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "262144", raw(body["accepted"]))
	assert.Equal(t, "finalizing", body["phase"])

	code, body = f.do(http.MethodPost, "/api/sovereigns/1/pledge", carol, map[string]any{"amount": 1_000})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "state", body["category"])

	code, body = f.do(http.MethodPost, "/api/sovereigns/1/finalize/pool", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code, body)
	code, body = f.do(http.MethodPost, "/api/sovereigns/1/finalize/liquidity", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "1048576", body["lock"].(map[string]any)["liquidity"])

	code, body = f.do(http.MethodGet, "/api/sovereigns/1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "recovery", body["phase"])
	assert.Equal(t, "0.001048576", body["recovery_target"].(map[string]any)["display"])
	assert.NotNil(t, body["lock"])
	assert.Equal(t, "9876", raw(body["creator_fees"].(map[string]any)["purchased_tokens"]))

	code, body = f.do(http.MethodGet, "/api/sovereigns/1/deposits", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	deposits := body["deposits"].([]any)
	require.Len(t, deposits, 2)
	tokA := deposits[0].(map[string]any)["claim_token_id"].(string)
	require.NotEmpty(t, tokA)

	code, body = f.do(http.MethodPost, "/api/claim-tokens/"+tokA+"/transfer", bob, map[string]any{"to": carol.Hex()})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization", body["category"])

	code, body = f.do(http.MethodPost, "/api/claim-tokens/"+tokA+"/transfer", alice, map[string]any{"to": carol.Hex()})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, carol.Hex(), body["holder"])

	code, body = f.do(http.MethodGet, "/api/claim-tokens?holder="+carol.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = f.do(http.MethodGet, "/api/audit?limit=100", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Positive(t, body["count"].(float64))
}

func TestAPI_Errors(t *testing.T) {
	f := newAPIFixture(t)
	f.bootstrap()

	code, _ := f.do(http.MethodPost, "/api/sovereigns/1/pledge", common.Address{}, map[string]any{"amount": 1_000})
	assert.Equal(t, http.StatusForbidden, code, "anonymous")

	code, body := f.do(http.MethodPost, "/api/sovereigns/1/pledge", alice, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "This field is required", body["fields"].(map[string]any)["amount"])

	code, _ = f.do(http.MethodPost, "/api/sovereigns/1/pledge", alice, map[string]any{"amount": 1, "extra": true})
	assert.Equal(t, http.StatusBadRequest, code, "unknown field")

	code, body = f.do(http.MethodPost, "/api/sovereigns/1/pledge", alice, map[string]any{"amount": 99})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "domain", body["category"])

	code, _ = f.do(http.MethodGet, "/api/sovereigns/99", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(http.MethodGet, "/api/sovereigns/abc", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(http.MethodPost, "/api/protocol/pause", alice, map[string]any{"paused": true})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = f.do(http.MethodPost, "/api/protocol/pause", authority, map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, code, body)
	code, body = f.do(http.MethodPost, "/api/sovereigns/1/pledge", alice, map[string]any{"amount": 1_000})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "paused")

	code, body = f.do(http.MethodPut, "/api/protocol/fees", authority, map[string]any{"protocol_fee_bps": 501})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["fields"], "protocol_fee_bps")

	code, body = f.do(http.MethodPost, "/api/sovereigns", creator, map[string]any{
		"type":               "token_launch",
		"bond_target":        1 << 20,
		"bond_duration_days": 14,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["fields"], "token_name")

	code, body = f.do(http.MethodGet, "/api/audit?since=yesterday", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(http.MethodGet, "/api/health", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "full", body["mode"])
}
