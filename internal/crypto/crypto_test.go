package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestSigner_ReceiptRecovers(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)

	pk, err := ethcrypto.HexToECDSA(testKey)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), s.Address())

	payload := []byte(`{"type":"fees.claimed","sovereign_id":7}`)
	sig, err := s.SignReceipt(payload)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	got, err := RecoverSigner(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverSigner([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestNewSigner_BadKey(t *testing.T) {
	_, err := NewSigner("zz")
	assert.Error(t, err)
}

func TestVerifyCaller(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	msg := CallerMessage("POST", "/api/sovereigns/1/pledge", 1_700_000_000)
	assert.Equal(t, "POST /api/sovereigns/1/pledge 1700000000", msg)
	sig, err := s.SignReceipt([]byte(msg))
	require.NoError(t, err)

	require.NoError(t, VerifyCaller(s.Address(), "POST", "/api/sovereigns/1/pledge", 1_700_000_000, sig))

	err = VerifyCaller(common.HexToAddress("0x01"), "POST", "/api/sovereigns/1/pledge", 1_700_000_000, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = VerifyCaller(s.Address(), "POST", "/api/sovereigns/1/pledge", 1_700_000_001, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = VerifyCaller(s.Address(), "POST", "/", 0, "0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestHMACAuth_HeadersAt(t *testing.T) {
	h := &HMACAuth{Key: "gateway-key", Secret: "c2VjcmV0"}
	hdr := h.HeadersAt("POST", "/rpc", []byte(`{"id":1}`), 1_700_000_000)

	assert.Equal(t, "gateway-key", hdr.Get(HeaderKey))
	assert.Equal(t, "1700000000", hdr.Get(HeaderTimestamp))
	assert.True(t, h.Verify("POST", "/rpc", []byte(`{"id":1}`), "1700000000", hdr.Get(HeaderSignature)))
	assert.False(t, h.Verify("POST", "/rpc", []byte(`{"id":2}`), "1700000000", hdr.Get(HeaderSignature)))

	assert.Equal(t, hdr.Get(HeaderSignature),
		h.HeadersAt("POST", "/rpc", []byte(`{"id":1}`), 1_700_000_000).Get(HeaderSignature))
	assert.Equal(t, "HMACAuth{key=gate****, secret=c2Vj****}", h.String())
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "authority.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	want, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), s.Address())
}

func TestKeyFile_AddressBound(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(blob, &kf))
	want, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), kf.Address)
	assert.Equal(t, defaultIterations, kf.Iterations)

	kf.Address = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	swapped, err := json.Marshal(kf)
	require.NoError(t, err)
	_, err = DecryptKey(swapped, "hunter2")
	assert.ErrorContains(t, err, "tampered")

	kf.Iterations = 10
	weak, err := json.Marshal(kf)
	require.NoError(t, err)
	_, err = DecryptKey(weak, "hunter2")
	assert.ErrorContains(t, err, "iterations")
}

func TestLoadKey_NoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "0xnothex"})
	assert.Error(t, err)
}
