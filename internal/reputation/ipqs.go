package reputation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/discord-verifier/cache"
	"github.com/pilab-dev/discord-verifier/internal/httpjson"
	"github.com/pilab-dev/discord-verifier/log"
)

// Endpoint is the IPQualityScore proxy/VPN detection API.
const Endpoint = "https://ipqualityscore.com/api/json/ip"

// DefaultThreshold is the fraud score at which a connection is rejected.
const DefaultThreshold = 50

// ErrInvalidIP is returned for addresses that cannot be looked up, such as "Unknown IP".
var ErrInvalidIP = errors.New("ip address is not parseable")

// Verdict is the subset of an IPQualityScore answer the verifier acts on or displays.
type Verdict struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message,omitempty"`
	FraudScore     float64 `json:"fraud_score"`
	VPN            bool    `json:"vpn"`
	Proxy          bool    `json:"proxy"`
	Tor            bool    `json:"tor"`
	ActiveVPN      bool    `json:"active_vpn"`
	ActiveTor      bool    `json:"active_tor"`
	RecentAbuse    bool    `json:"recent_abuse"`
	BotStatus      bool    `json:"bot_status"`
	Mobile         bool    `json:"mobile"`
	ISP            string  `json:"ISP,omitempty"`
	Organization   string  `json:"organization,omitempty"`
	ConnectionType string  `json:"connection_type,omitempty"`
	CountryCode    string  `json:"country_code,omitempty"`
	Region         string  `json:"region,omitempty"`
	City           string  `json:"city,omitempty"`
}

// Flagged reports whether the connection must be rejected: any anonymizer flag,
// or a fraud score at or above threshold.
func (v *Verdict) Flagged(threshold int) bool {
	return len(v.Reasons(threshold)) > 0
}

// Reasons lists why the verdict is flagged. Empty means clean.
func (v *Verdict) Reasons(threshold int) []string {
	if v == nil {
		return nil
	}
	var reasons []string
	if v.VPN {
		reasons = append(reasons, "vpn")
	}
	if v.Proxy {
		reasons = append(reasons, "proxy")
	}
	if v.Tor {
		reasons = append(reasons, "tor")
	}
	if v.FraudScore >= float64(threshold) {
		reasons = append(reasons, fmt.Sprintf("fraud_score=%g", v.FraudScore))
	}
	return reasons
}

// Summary renders the verdict for audit messages.
func (v *Verdict) Summary() string {
	if v == nil {
		return "Unavailable"
	}
	return fmt.Sprintf("Fraud score: %g\nVPN: %t | Proxy: %t | Tor: %t\nRecent abuse: %t | Bot: %t",
		v.FraudScore, v.VPN, v.Proxy, v.Tor, v.RecentAbuse, v.BotStatus)
}

// Checker looks up IP reputations, caching answers when a store is set.
type Checker struct {
	apiKey     string
	httpClient *http.Client
	store      cache.Store
	ttl        time.Duration
	logger     log.Logger
}

// NewChecker creates a Checker. store and logger may be nil.
func NewChecker(apiKey string, httpClient *http.Client, store cache.Store, ttl time.Duration, logger log.Logger) *Checker {
	if logger == nil {
		logger = log.Nop()
	}
	return &Checker{
		apiKey:     apiKey,
		httpClient: httpClient,
		store:      store,
		ttl:        ttl,
		logger:     logger,
	}
}

// Check returns the reputation of ip.
func (c *Checker) Check(ctx context.Context, ip string) (*Verdict, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	ip = addr.Unmap().String()

	key := "ipqs:" + ip
	if v, ok := cache.GetJSON[Verdict](ctx, c.store, key); ok {
		return v, nil
	}

	endpoint := fmt.Sprintf("%s/%s/%s", Endpoint, url.PathEscape(c.apiKey), url.PathEscape(ip))

	var v Verdict
	if err := httpjson.Get(ctx, c.httpClient, endpoint, &v); err != nil {
		return nil, fmt.Errorf("ipqualityscore lookup: %w", err)
	}
	if !v.Success {
		return nil, fmt.Errorf("ipqualityscore lookup: %s", v.Message)
	}

	// A failed cache write only costs a repeated lookup.
	if err := cache.SetJSON(ctx, c.store, key, v, c.ttl); err != nil {
		c.logger.Warn(ctx, "failed to cache reputation verdict", log.Fields{
			"ip":    ip,
			"error": err.Error(),
		})
	}

	return &v, nil
}
