package geo

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

var (
	IPAPIEndpoint   = "http://ip-api.com/json"
	IPWhoisEndpoint = "https://ipwho.is"
)

const ipAPIFields = "status,message,country,countryCode,regionName,city,zip,lat,lon,timezone,isp,org,as,mobile,proxy,hosting"

// ErrInvalidIP is returned for addresses that cannot be located.
var ErrInvalidIP = errors.New("ip address is not parseable")

// Info is best-effort location and network metadata for an IP. Any field may be empty.
type Info struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	ZIP         string  `json:"zip,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Org         string  `json:"org,omitempty"`
	AS          string  `json:"as,omitempty"`
	Mobile      bool    `json:"mobile,omitempty"`
	Proxy       bool    `json:"proxy,omitempty"`
	Hosting     bool    `json:"hosting,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// HasCountry reports whether the lookup resolved at least a country.
func (i *Info) HasCountry() bool {
	return i != nil && strings.TrimSpace(i.Country) != ""
}

// Location renders "City, Region, Country" skipping empty parts.
func (i *Info) Location() string {
	if i == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{i.City, i.Region, i.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Provider resolves an IP to Info.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*Info, error)
}

// IPAPIProvider queries ip-api.com.
type IPAPIProvider struct {
	httpClient *http.Client
}

// NewIPAPIProvider creates the ip-api.com provider.
func NewIPAPIProvider(httpClient *http.Client) *IPAPIProvider {
	return &IPAPIProvider{httpClient: httpClient}
}

func (p *IPAPIProvider) Name() string { return "ip-api.com" }

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	ZIP         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	Mobile      bool    `json:"mobile"`
	Proxy       bool    `json:"proxy"`
	Hosting     bool    `json:"hosting"`
}

// Lookup implements Provider.
func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (*Info, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=%s", IPAPIEndpoint, url.PathEscape(ip), ipAPIFields)

	var resp ipAPIResponse
	if err := httpjson.Get(ctx, p.httpClient, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("ip-api lookup: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("ip-api lookup: %s", resp.Message)
	}

	return &Info{
		Country:     resp.Country,
		CountryCode: resp.CountryCode,
		Region:      resp.RegionName,
		City:        resp.City,
		ZIP:         resp.ZIP,
		Lat:         resp.Lat,
		Lon:         resp.Lon,
		Timezone:    resp.Timezone,
		ISP:         resp.ISP,
		Org:         resp.Org,
		AS:          resp.AS,
		Mobile:      resp.Mobile,
		Proxy:       resp.Proxy,
		Hosting:     resp.Hosting,
		Source:      p.Name(),
	}, nil
}

// IPWhoisProvider queries ipwho.is.
type IPWhoisProvider struct {
	httpClient *http.Client
}

// NewIPWhoisProvider creates the ipwho.is provider.
func NewIPWhoisProvider(httpClient *http.Client) *IPWhoisProvider {
	return &IPWhoisProvider{httpClient: httpClient}
}

func (p *IPWhoisProvider) Name() string { return "ipwho.is" }

type ipWhoisResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Postal      string  `json:"postal"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Connection  struct {
		ASN int    `json:"asn"`
		Org string `json:"org"`
		ISP string `json:"isp"`
	} `json:"connection"`
	Timezone struct {
		ID string `json:"id"`
	} `json:"timezone"`
}

// Lookup implements Provider.
func (p *IPWhoisProvider) Lookup(ctx context.Context, ip string) (*Info, error) {
	endpoint := fmt.Sprintf("%s/%s", IPWhoisEndpoint, url.PathEscape(ip))

	var resp ipWhoisResponse
	if err := httpjson.Get(ctx, p.httpClient, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("ipwho.is lookup: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("ipwho.is lookup: %s", resp.Message)
	}

	info := &Info{
		Country:     resp.Country,
		CountryCode: resp.CountryCode,
		Region:      resp.Region,
		City:        resp.City,
		ZIP:         resp.Postal,
		Lat:         resp.Latitude,
		Lon:         resp.Longitude,
		Timezone:    resp.Timezone.ID,
		ISP:         resp.Connection.ISP,
		Org:         resp.Connection.Org,
		Source:      p.Name(),
	}
	if resp.Connection.ASN != 0 {
		info.AS = fmt.Sprintf("AS%d", resp.Connection.ASN)
	}
	return info, nil
}

// Locator asks the primary provider first and the secondary only when the
// primary yields no country.
type Locator struct {
	primary   Provider
	secondary Provider
	store     cache.Store
	ttl       time.Duration
	logger    log.Logger
}

// NewLocator creates a Locator. secondary and store may be nil.
func NewLocator(primary, secondary Provider, store cache.Store, ttl time.Duration, logger log.Logger) *Locator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Locator{
		primary:   primary,
		secondary: secondary,
		store:     store,
		ttl:       ttl,
		logger:    logger,
	}
}

// Locate resolves ip. It returns whatever partial Info it could gather and an
// error only when no provider answered.
func (l *Locator) Locate(ctx context.Context, ip string) (*Info, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	ip = addr.Unmap().String()

	key := "geo:" + ip
	if info, ok := cache.GetJSON[Info](ctx, l.store, key); ok {
		return info, nil
	}

	info, primaryErr := l.primary.Lookup(ctx, ip)
	if primaryErr != nil {
		l.logger.Warn(ctx, "primary geolocation lookup failed", log.Fields{
			"provider": l.primary.Name(),
			"error":    primaryErr.Error(),
		})
	}

	if !info.HasCountry() && l.secondary != nil {
		fallback, err := l.secondary.Lookup(ctx, ip)
		switch {
		case err != nil:
			l.logger.Warn(ctx, "secondary geolocation lookup failed", log.Fields{
				"provider": l.secondary.Name(),
				"error":    err.Error(),
			})
			if info == nil {
				return nil, errors.Join(primaryErr, err)
			}
		case fallback.HasCountry() || info == nil:
			info = fallback
		}
	}

	if info == nil {
		return nil, primaryErr
	}

	if info.HasCountry() {
		if err := cache.SetJSON(ctx, l.store, key, info, l.ttl); err != nil {
			l.logger.Warn(ctx, "failed to cache geolocation", log.Fields{"error": err.Error()})
		}
	}

	return info, nil
}
