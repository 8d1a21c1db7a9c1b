package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pilab-dev/discord-verifier/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_CLIENT_ID", "client-id")
	t.Setenv("DISCORD_CLIENT_SECRET", "client-secret")
	t.Setenv("DISCORD_BOT_TOKEN", "bot-token")
	t.Setenv("DISCORD_GUILD_ID", "111")
	t.Setenv("DISCORD_ROLE_ID", "222")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/abc")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PUBLIC_HOST", "verify.example.com")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "discord-verifier", cfg.OtelServiceName)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientTimeout)
	assert.Equal(t, 30, cfg.CallbackRateLimit)
	assert.Equal(t, config.CheckBeforeExchange, cfg.ReputationCheckOrder)
	assert.Equal(t, 50, cfg.FraudScoreThreshold)
	assert.Equal(t, config.CacheMemory, cfg.LookupCache)
	assert.Equal(t, 10*time.Minute, cfg.LookupCacheTTL)
	assert.True(t, cfg.EnrichConnections)
	assert.True(t, cfg.EnrichGeo)
	assert.False(t, cfg.EnrichBilling)
	assert.False(t, cfg.EnrichPresence)
	assert.Equal(t, []string{"identify", "connections", "guilds"}, cfg.Scopes())
	assert.True(t, cfg.EnrichConnections && cfg.HasScope(config.ScopeConnections))
	assert.True(t, cfg.EnrichGuilds && cfg.HasScope(config.ScopeGuilds))
	assert.False(t, cfg.EnrichDMChannels)
	assert.False(t, cfg.HasScope(config.ScopeDMChannels))
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, "https://verify.example.com/api/callback", cfg.RedirectURI)
	assert.False(t, cfg.ReputationEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISCORD_REDIRECT_URI", "https://berify.example.app/api/callback")
	t.Setenv("VERCEL_URL", "ignored.vercel.app")
	t.Setenv("IPQS_API_KEY", "ipqs-key")
	t.Setenv("REPUTATION_CHECK_ORDER", "AFTER_EXCHANGE")
	t.Setenv("FRAUD_SCORE_THRESHOLD", "75")
	t.Setenv("ENRICH_GEO", "false")
	t.Setenv("LOOKUP_CACHE", "redis")
	t.Setenv("LOOKUP_CACHE_TTL", "30s")
	t.Setenv("HTTP_CLIENT_TIMEOUT", "3s")
	t.Setenv("SUCCESS_REDIRECT_URL", "https://example.com/verified")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://berify.example.app/api/callback", cfg.RedirectURI)
	assert.True(t, cfg.ReputationEnabled())
	assert.Equal(t, config.CheckAfterExchange, cfg.ReputationCheckOrder)
	assert.Equal(t, 75, cfg.FraudScoreThreshold)
	assert.False(t, cfg.EnrichGeo)
	assert.Equal(t, config.CacheRedis, cfg.LookupCache)
	assert.Equal(t, 30*time.Second, cfg.LookupCacheTTL)
	assert.Equal(t, 3*time.Second, cfg.HTTPClientTimeout)
	assert.Equal(t, "https://example.com/verified", cfg.SuccessURL())
	assert.Equal(t, "https://discord.com/channels/111", cfg.GuildURL())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
DISCORD_CLIENT_ID: "file-client"
DISCORD_CLIENT_SECRET: "file-secret"
DISCORD_BOT_TOKEN: "file-bot"
DISCORD_GUILD_ID: "333"
DISCORD_ROLE_ID: "444"
DISCORD_WEBHOOK_URL: "https://discord.com/api/webhooks/2/def"
VERCEL_URL: "berify-topaz.vercel.app"
HTTP_PORT: "9090"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("DISCORD_GUILD_ID", "555")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-client", cfg.ClientID)
	assert.Equal(t, "555", cfg.GuildID, "environment wins over the file")
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "https://berify-topaz.vercel.app/api/callback", cfg.RedirectURI)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryMissingKey(t *testing.T) {
	cfg := config.Config{
		ReputationCheckOrder: "sometimes",
		LookupCache:          "disk",
		FraudScoreThreshold:  120,
	}

	err := cfg.Validate()
	require.Error(t, err)

	for _, key := range []string{
		"DISCORD_CLIENT_ID",
		"DISCORD_CLIENT_SECRET",
		"DISCORD_BOT_TOKEN",
		"DISCORD_GUILD_ID",
		"DISCORD_ROLE_ID",
		"DISCORD_WEBHOOK_URL",
		"DISCORD_REDIRECT_URI",
		"REPUTATION_CHECK_ORDER",
		"LOOKUP_CACHE",
		"FRAUD_SCORE_THRESHOLD",
	} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PUBLIC_HOST", "verify.example.com")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
	assert.NoError(t, cfg.Validate())

	cfg.TrustedProxies = append(cfg.TrustedProxies, "proxy.internal")
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `TRUSTED_PROXIES entry "proxy.internal"`)
}

func TestScopes_CommaSeparated(t *testing.T) {
	cfg := config.Config{OAuthScopes: "identify,email, connections"}
	assert.Equal(t, []string{"identify", "email", "connections"}, cfg.Scopes())
	assert.True(t, cfg.HasScope(config.ScopeConnections))
	assert.False(t, cfg.HasScope("connection"))
}
