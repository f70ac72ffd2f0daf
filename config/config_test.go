package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, uint64(500000), cfg.Ledger.GasLimit)
	require.Equal(t, 60*time.Second, cfg.Ledger.SubmitTimeout)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "", cfg.Ledger.ContractAddress)
	require.Equal(t, "mongo", cfg.Mirror.Driver)
	require.Equal(t, 3*time.Second, cfg.Mirror.Timeout)
	require.Equal(t, "shipments", cfg.Mongo.Collection)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte(`
ledger:
  rpc_url: http://node:8545
  contract_address: "0x84101173a9BEf7Feda466B9b4293617Ca8D46F98"
  submit_timeout: 15s
mirror:
  driver: postgres
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	t.Setenv("SHIPMENT_LEDGER_GAS_LIMIT", "300000")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	require.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	require.Equal(t, "0x84101173a9BEf7Feda466B9b4293617Ca8D46F98", cfg.Ledger.ContractAddress)
	require.Equal(t, 15*time.Second, cfg.Ledger.SubmitTimeout)
	require.Equal(t, uint64(300000), cfg.Ledger.GasLimit)
	require.Equal(t, "postgres", cfg.Mirror.Driver)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFormatIndex(t *testing.T) {
	require.Equal(t, "shipment-annotations", FormatIndex(ElasticConfig{Prefix: "shipment"}, "annotations"))
}
