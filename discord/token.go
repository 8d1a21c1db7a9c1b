package discord

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RateLimit holds the X-RateLimit-* headers of a response, kept for display only.
type RateLimit struct {
	Limit      string
	Remaining  string
	ResetAfter string
	Bucket     string
}

func rateLimitFrom(h http.Header) RateLimit {
	return RateLimit{
		Limit:      h.Get("X-RateLimit-Limit"),
		Remaining:  h.Get("X-RateLimit-Remaining"),
		ResetAfter: h.Get("X-RateLimit-Reset-After"),
		Bucket:     h.Get("X-RateLimit-Bucket"),
	}
}

// Present reports whether Discord sent any rate limit headers.
func (r RateLimit) Present() bool {
	return r.Limit != "" || r.Remaining != ""
}

// TokenResponse is the decoded body of the OAuth2 token endpoint.
// A body that is not a JSON object decodes to an empty response; RawBody keeps the text.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	Scope        string
	RefreshToken string
	ExpiresIn    int64
	HasExpiresIn bool

	StatusCode int
	RawBody    string
	Raw        map[string]any
	RateLimit  RateLimit
}

// ParseTokenResponse never fails: malformed JSON leaves every field empty.
func ParseTokenResponse(status int, header http.Header, body []byte) *TokenResponse {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		raw = map[string]any{}
	}

	tok := &TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		StatusCode:   status,
		RawBody:      string(body),
		Raw:          raw,
		RateLimit:    rateLimitFrom(header),
	}
	if exp, ok := raw["expires_in"]; ok && exp != nil {
		tok.ExpiresIn, tok.HasExpiresIn = int64Value(exp)
	}
	return tok
}

// ExpiresInString renders expires_in for display.
func (t *TokenResponse) ExpiresInString() string {
	if !t.HasExpiresIn {
		return "unknown"
	}
	return strconv.FormatInt(t.ExpiresIn, 10)
}

// OAuth2Token converts the response into an oauth2.Token, keeping the raw fields as extras.
func (t *TokenResponse) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.HasExpiresIn && t.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(t.Raw)
}

// Authorization is the header value used for user-scoped REST calls.
func (t *TokenResponse) Authorization() string {
	tok := t.OAuth2Token()
	return tok.Type() + " " + tok.AccessToken
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) (int64, bool) {
	switch v := input.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}
