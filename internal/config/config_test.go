package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "https://polygon-rpc.example.org"
	return cfg
}

func TestDefaultsAreValidWithRPCURL(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, uint64(10), cfg.Chain.Confirmations)
	assert.Len(t, cfg.Chain.ExchangeAddresses, 2)
	assert.Equal(t, uint64(1000), cfg.Fetcher.ChunkSize)
	assert.Equal(t, uint64(5000), cfg.Sync.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval.Duration)
	assert.Equal(t, "full", cfg.Mode)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Chain.RPCURL = ""
	cfg.Chain.ExchangeAddresses = []string{"not-an-address"}
	cfg.Fetcher.ChunkSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
	assert.Contains(t, err.Error(), "rpc_url must not be empty")
	assert.Contains(t, err.Error(), `invalid exchange address "not-an-address"`)
	assert.Contains(t, err.Error(), "chunk_size must be >= 1")
}

func TestValidateStartTime(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.StartTime = "2024-01-01T00:00:00Z"
	require.NoError(t, cfg.Validate())

	cfg.Chain.StartTime = "yesterday"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `start_time "yesterday" is not RFC 3339`)

	cfg.Chain.StartTime = "2024-01-01T00:00:00Z"
	cfg.Chain.GenesisBlock = 40_000_000
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set either genesis_block or start_time, not both")
}

func TestValidateServeModeSkipsChainChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	// No RPC URL and no exchange addresses are fine when only serving.
	cfg.Chain.ExchangeAddresses = nil
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveRequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "follow"
log_level = "debug"

[chain]
rpc_url = "https://polygon.example.org"
genesis_block = 4023686

[sync]
poll_interval = "30s"
batch_size = 2000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "follow", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://polygon.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(4023686), cfg.Chain.GenesisBlock)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval.Duration)
	assert.Equal(t, uint64(2000), cfg.Sync.BatchSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, uint64(1000), cfg.Fetcher.ChunkSize)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[chain]\nrpc_url = \"https://from-file.example.org\"\n"), 0o600))

	t.Setenv("POLYINDEXER_CHAIN_RPC_URL", "https://from-env.example.org")
	t.Setenv("POLYINDEXER_CHAIN_CONFIRMATIONS", "30")
	t.Setenv("POLYINDEXER_SYNC_POLL_INTERVAL", "2s")
	t.Setenv("POLYINDEXER_MODE", "sync")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(30), cfg.Chain.Confirmations)
	assert.Equal(t, 2*time.Second, cfg.Sync.PollInterval.Duration)
	assert.Equal(t, "sync", cfg.Mode)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("chain = ["), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
