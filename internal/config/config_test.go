package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"TaniLedger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TANI_FEE_COLLECTOR", "0xplatform")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, int64(250), cfg.FeeBps)
	assert.Equal(t, []string{"IDRX"}, cfg.PaymentTokens)
	assert.Empty(t, cfg.Verifiers)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, time.Minute, cfg.KeeperInterval)
	assert.Equal(t, 24*time.Hour, cfg.ReceiptCacheTTL)
	assert.True(t, cfg.NATSEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TANI_FEE_COLLECTOR", "0xplatform")
	t.Setenv("TANI_FEE_BPS", "100")
	t.Setenv("TANI_VERIFIERS", "0xbpn, 0xnotaris")
	t.Setenv("TANI_PAYMENT_TOKENS", "IDRX,USDC")
	t.Setenv("TANI_KEEPER_INTERVAL", "30s")
	t.Setenv("TANI_NATS_ENABLED", "false")
	t.Setenv("TANI_PERSIST_FLUSH_MS", "25")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(100), cfg.FeeBps)
	assert.Equal(t, []string{"0xbpn", "0xnotaris"}, cfg.Verifiers)
	assert.Equal(t, []string{"IDRX", "USDC"}, cfg.PaymentTokens)
	assert.Equal(t, 30*time.Second, cfg.KeeperInterval)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.False(t, cfg.NATSEnabled)

	cc := cfg.CoreConfig()
	assert.Equal(t, int64(100), cc.PlatformFeeBps)
	assert.Equal(t, "0xplatform", cc.FeeCollector)
	assert.Equal(t, []string{"IDRX", "USDC"}, cc.PaymentTokens)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tanild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fee_collector: "0xkoperasi"
fee_bps: 50
verifiers:
  - 0xbpn
payment_tokens:
  - IDRT
http_addr: ":18080"
`), 0o600))
	t.Setenv("TANI_HTTP_ADDR", ":28080")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xkoperasi", cfg.FeeCollector)
	assert.Equal(t, int64(50), cfg.FeeBps)
	assert.Equal(t, []string{"0xbpn"}, cfg.Verifiers)
	assert.Equal(t, []string{"IDRT"}, cfg.PaymentTokens)
	// environment wins over the file
	assert.Equal(t, ":28080", cfg.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"missing fee collector", func(c *config.Config) { c.FeeCollector = "" }, "fee collector"},
		{"fee above 100%", func(c *config.Config) { c.FeeBps = 10_001 }, "platform fee bps"},
		{"no payment tokens", func(c *config.Config) { c.PaymentTokens = nil }, "payment token"},
		{"missing db url", func(c *config.Config) { c.DBURL = "" }, "db url"},
		{"nats without url", func(c *config.Config) { c.NATSURL = "" }, "nats url"},
		{"keeper without identity", func(c *config.Config) { c.KeeperIdentity = "" }, "keeper identity"},
		{"zero batch size", func(c *config.Config) { c.PersistBatchSize = 0 }, "persist batch size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TANI_FEE_COLLECTOR", "0xplatform")
			cfg, err := config.Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestString_MasksDatabaseCredentials(t *testing.T) {
	t.Setenv("TANI_DB_URL", "postgres://tani:secret@db:5432/tani")
	cfg, err := config.Load("")
	require.NoError(t, err)

	out := cfg.String()
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "@db:5432/tani")
}
