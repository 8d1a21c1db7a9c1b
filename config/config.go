package config

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CheckOrder decides whether the IP reputation check runs before or after the
// authorization code is exchanged.
type CheckOrder string

const (
	CheckBeforeExchange CheckOrder = "before_exchange"
	CheckAfterExchange  CheckOrder = "after_exchange"
)

// CacheBackend selects where geolocation and reputation lookups are cached.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
	CacheNone   CacheBackend = "none"
)

// CallbackPath is the path Discord redirects back to after authorization.
const CallbackPath = "/api/callback"

// OAuth2 scopes the user-token enrichments depend on.
const (
	ScopeConnections = "connections"
	ScopeGuilds      = "guilds"
	ScopeDMChannels  = "dm_channels.read"
)

// Config holds all configuration for the verifier.
// Tags use mapstructure for Viper unmarshalling; keys double as environment variable names.
type Config struct {
	HTTPPort          string        `mapstructure:"HTTP_PORT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogPretty         bool          `mapstructure:"LOG_PRETTY"`
	OtelServiceName   string        `mapstructure:"OTEL_SERVICE_NAME"`
	OtelExporter      string        `mapstructure:"OTEL_EXPORTER"` // "stdout" or "none"
	HTTPClientTimeout time.Duration `mapstructure:"HTTP_CLIENT_TIMEOUT"`

	// Callback requests per minute per client IP; 0 disables limiting.
	CallbackRateLimit int `mapstructure:"CALLBACK_RATE_LIMIT"`
	// Proxies whose X-Forwarded-For is believed when keying the rate limiter.
	// Empty trusts none, so the peer address is used.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	// Discord application and guild
	ClientID           string `mapstructure:"DISCORD_CLIENT_ID"`
	ClientSecret       string `mapstructure:"DISCORD_CLIENT_SECRET"`
	BotToken           string `mapstructure:"DISCORD_BOT_TOKEN"`
	GuildID            string `mapstructure:"DISCORD_GUILD_ID"`
	RoleID             string `mapstructure:"DISCORD_ROLE_ID"`
	WebhookURL         string `mapstructure:"DISCORD_WEBHOOK_URL"`
	RedirectURI        string `mapstructure:"DISCORD_REDIRECT_URI"`
	OAuthScopes        string `mapstructure:"DISCORD_OAUTH_SCOPES"`
	PublicHost         string `mapstructure:"PUBLIC_HOST"`
	VercelURL          string `mapstructure:"VERCEL_URL"`
	SuccessRedirectURL string `mapstructure:"SUCCESS_REDIRECT_URL"`

	// IP reputation
	IPQSAPIKey           string     `mapstructure:"IPQS_API_KEY"`
	ReputationCheckOrder CheckOrder `mapstructure:"REPUTATION_CHECK_ORDER"`
	FraudScoreThreshold  int        `mapstructure:"FRAUD_SCORE_THRESHOLD"`

	// Best-effort enrichment toggles
	EnrichConnections bool `mapstructure:"ENRICH_CONNECTIONS"`
	EnrichGuilds      bool `mapstructure:"ENRICH_GUILDS"`
	EnrichMember      bool `mapstructure:"ENRICH_MEMBER"`
	EnrichDMChannels  bool `mapstructure:"ENRICH_DM_CHANNELS"` // dm_channels.read is only granted to approved apps
	EnrichBilling     bool `mapstructure:"ENRICH_BILLING"`
	EnrichPresence    bool `mapstructure:"ENRICH_PRESENCE"` // needs the privileged presence intent
	EnrichGeo         bool `mapstructure:"ENRICH_GEO"`

	LookupCache    CacheBackend  `mapstructure:"LOOKUP_CACHE"`
	LookupCacheTTL time.Duration `mapstructure:"LOOKUP_CACHE_TTL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
}

var defaults = map[string]any{
	"HTTP_PORT":              "8080",
	"LOG_LEVEL":              "info",
	"LOG_PRETTY":             false,
	"OTEL_SERVICE_NAME":      "discord-verifier",
	"OTEL_EXPORTER":          "none",
	"HTTP_CLIENT_TIMEOUT":    "10s",
	"CALLBACK_RATE_LIMIT":    30,
	"DISCORD_OAUTH_SCOPES":   "identify connections guilds",
	"REPUTATION_CHECK_ORDER": string(CheckBeforeExchange),
	"FRAUD_SCORE_THRESHOLD":  50,
	"ENRICH_CONNECTIONS":     true,
	"ENRICH_GUILDS":          true,
	"ENRICH_MEMBER":          true,
	"ENRICH_DM_CHANNELS":     false,
	"ENRICH_BILLING":         false,
	"ENRICH_PRESENCE":        false,
	"ENRICH_GEO":             true,
	"LOOKUP_CACHE":           string(CacheMemory),
	"LOOKUP_CACHE_TTL":       "10m",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_DB":               0,
}

// Keys without defaults still have to be bound, otherwise Unmarshal never sees
// values that only exist in the environment.
var unboundKeys = []string{
	"DISCORD_CLIENT_ID",
	"DISCORD_CLIENT_SECRET",
	"DISCORD_BOT_TOKEN",
	"DISCORD_GUILD_ID",
	"DISCORD_ROLE_ID",
	"DISCORD_WEBHOOK_URL",
	"DISCORD_REDIRECT_URI",
	"PUBLIC_HOST",
	"VERCEL_URL",
	"SUCCESS_REDIRECT_URL",
	"IPQS_API_KEY",
	"REDIS_PASSWORD",
	"TRUSTED_PROXIES",
}

// LoadConfig reads configuration from an optional YAML file, environment variables and defaults.
// An empty path searches /etc/discord-verifier, $HOME/.discord-verifier and the working directory.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/discord-verifier/")
		v.AddConfigPath("$HOME/.discord-verifier")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range unboundKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.ReputationCheckOrder = CheckOrder(strings.ToLower(string(cfg.ReputationCheckOrder)))
	cfg.LookupCache = CacheBackend(strings.ToLower(string(cfg.LookupCache)))
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = deriveRedirectURI(cfg.PublicHost, cfg.VercelURL)
	}

	return cfg, nil
}

// splitList flattens entries that viper left comma or space separated.
func splitList(entries []string) []string {
	var out []string
	for _, e := range entries {
		out = append(out, strings.FieldsFunc(e, func(r rune) bool {
			return r == ' ' || r == ','
		})...)
	}
	return out
}

// deriveRedirectURI builds the callback URL from the host the platform reports.
func deriveRedirectURI(hosts ...string) string {
	for _, host := range hosts {
		host = strings.TrimRight(strings.TrimSpace(host), "/")
		if host == "" {
			continue
		}
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "https://" + host
		}
		return host + CallbackPath
	}
	return ""
}

// Validate reports every required value that is missing or malformed.
func (c Config) Validate() error {
	var errs []error

	required := []struct {
		key, value string
	}{
		{"DISCORD_CLIENT_ID", c.ClientID},
		{"DISCORD_CLIENT_SECRET", c.ClientSecret},
		{"DISCORD_BOT_TOKEN", c.BotToken},
		{"DISCORD_GUILD_ID", c.GuildID},
		{"DISCORD_ROLE_ID", c.RoleID},
		{"DISCORD_WEBHOOK_URL", c.WebhookURL},
		{"DISCORD_REDIRECT_URI", c.RedirectURI},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	switch c.ReputationCheckOrder {
	case CheckBeforeExchange, CheckAfterExchange:
	default:
		errs = append(errs, fmt.Errorf("REPUTATION_CHECK_ORDER must be %q or %q, got %q",
			CheckBeforeExchange, CheckAfterExchange, c.ReputationCheckOrder))
	}

	switch c.LookupCache {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		errs = append(errs, fmt.Errorf("LOOKUP_CACHE must be memory, redis or none, got %q", c.LookupCache))
	}

	if c.CallbackRateLimit < 0 {
		errs = append(errs, fmt.Errorf("CALLBACK_RATE_LIMIT must not be negative, got %d", c.CallbackRateLimit))
	}

	for _, proxy := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy))
		}
	}

	if c.FraudScoreThreshold < 0 || c.FraudScoreThreshold > 100 {
		errs = append(errs, fmt.Errorf("FRAUD_SCORE_THRESHOLD must be between 0 and 100, got %d", c.FraudScoreThreshold))
	}

	return errors.Join(errs...)
}

// Scopes splits DISCORD_OAUTH_SCOPES on spaces or commas.
func (c Config) Scopes() []string {
	return strings.FieldsFunc(c.OAuthScopes, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

// HasScope reports whether DISCORD_OAUTH_SCOPES requests scope.
func (c Config) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// ReputationEnabled reports whether an IPQualityScore key is configured.
func (c Config) ReputationEnabled() bool {
	return strings.TrimSpace(c.IPQSAPIKey) != ""
}

// GuildURL is where users land after a successful verification by default.
func (c Config) GuildURL() string {
	return "https://discord.com/channels/" + c.GuildID
}

// SuccessURL returns the static success page when configured, otherwise the guild URL.
func (c Config) SuccessURL() string {
	if c.SuccessRedirectURL != "" {
		return c.SuccessRedirectURL
	}
	return c.GuildURL()
}
