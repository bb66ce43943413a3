package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sovereign.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "keeper"
store = "memory"

[protocol]
bootstrap = true
authority = "0x00000000000000000000000000000000000000a1"
unwind_fee_bps = 1500

[keeper]
fee_interval = "5m"

[gateway]
kind = "rpc"
url = "http://adapter:8545"
`), 0o600))

	t.Setenv("SOVEREIGN_LOG_LEVEL", "debug")
	t.Setenv("SOVEREIGN_PROTOCOL_UNWIND_FEE_BPS", "1800")
	t.Setenv("SOVEREIGN_NOTIFY_EVENTS", "unwound, ,bonding_failed")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(1800), cfg.Protocol.UnwindFeeBPS)
	assert.Equal(t, uint64(100), cfg.Protocol.ProtocolFeeBPS, "default kept")
	assert.Equal(t, 5*time.Minute, cfg.Keeper.FeeInterval.Duration)
	assert.Equal(t, time.Minute, cfg.Keeper.LifecycleInterval.Duration)
	assert.Equal(t, []string{"unwound", "bonding_failed"}, cfg.Notify.Events)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestLoad_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Protocol.UnwindFeeBPS = 2001
	cfg.Protocol.Treasury = "not-an-address"
	cfg.Gateway.Kind = "rpc"
	cfg.Server.Port = 0
	cfg.S3.SSE = "rot13"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"unwind_fee_bps must be <= 2000",
		`treasury "not-an-address"`,
		"gateway: url is required",
		"server: port must be 1-65535",
		`unknown sse "rot13"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.PrivateKey = "deadbeef"
	cfg.Database.Password = "pw"
	cfg.Gateway.APISecret = "s"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Authority.PrivateKey)
	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.Gateway.APISecret)
	assert.Equal(t, "", out.Server.APIKey, "empty stays empty")
	assert.Equal(t, "deadbeef", cfg.Authority.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
