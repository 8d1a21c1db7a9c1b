package verify_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/internal/audit"
	"github.com/pilab-dev/discord-verifier/internal/testutil"
	"github.com/pilab-dev/discord-verifier/verify"
	"github.com/stretchr/testify/require"
)

const (
	testGuildID = "81384788765712384"
	testRoleID  = "41771983423143936"
	testUserID  = "175928847299117063"
	testIP      = "203.0.113.7"
	webhookURL  = "https://discord.com/api/webhooks/1111/hook-token"

	patternToken       = "POST discord.com/api/oauth2/token"
	patternMe          = "GET discord.com/api/v9/users/@me"
	patternConnections = "GET discord.com/api/v9/users/@me/connections"
	patternGuilds      = "GET discord.com/api/v9/users/@me/guilds"
	patternChannels    = "GET discord.com/api/v9/users/@me/channels"
	patternBilling     = "GET discord.com/api/v9/users/@me/billing/payment-sources"
	patternMember      = "GET discord.com/api/v9/guilds/{guild}/members/{user}"
	patternRole        = "PUT discord.com/api/v9/guilds/{guild}/members/{user}/roles/{role}"
	patternWebhook     = "POST discord.com/api/webhooks/{id}/{token}"
	patternIPQS        = "GET ipqualityscore.com/api/json/ip/{key}/{ip}"
	patternIPAPI       = "GET ip-api.com/json/{ip}"
	patternIPWhois     = "GET ipwho.is/{ip}"

	rolePathPrefix = "/api/v9/guilds/" + testGuildID + "/members/" + testUserID + "/roles/"
)

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// defaultHandlers answers every upstream with a successful response.
func defaultHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		patternToken: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-RateLimit-Limit", "5")
			w.Header().Set("X-RateLimit-Remaining", "4")
			_, _ = w.Write([]byte(`{"access_token":"user-token","token_type":"Bearer","expires_in":604800,"refresh_token":"refresh","scope":"identify guilds connections"}`))
		},
		patternMe: jsonHandler(http.StatusOK, `{"id":"`+testUserID+`","username":"wumpus","discriminator":"0","global_name":"Wumpus","avatar":"abc123","email":"wumpus@example.com","verified":true,"flags":576,"public_flags":576,"premium_type":2,"locale":"en-US","mfa_enabled":true}`),
		patternConnections: jsonHandler(http.StatusOK, `[{"id":"gh1","name":"wumpus-gh","type":"github","revoked":false}]`),
		patternGuilds: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bot ") {
				_, _ = w.Write([]byte(`[{"id":"` + testGuildID + `","name":"Verify Hub"},{"id":"3","name":"Bot Only"}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":"` + testGuildID + `","name":"Verify Hub"},{"id":"2","name":"User Only","owner":true}]`))
		},
		patternChannels: jsonHandler(http.StatusOK, `[{"id":"dm1","type":1,"recipients":[{"id":"9","username":"clyde"}]}]`),
		patternBilling:  jsonHandler(http.StatusUnauthorized, `{"message":"401: Unauthorized","code":0}`),
		patternMember:   jsonHandler(http.StatusOK, `{"nick":"wump","joined_at":"2021-01-02T03:04:05.000000+00:00","roles":["1","2"],"user":{"id":"`+testUserID+`"}}`),
		patternRole: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		patternWebhook: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		patternIPQS:    jsonHandler(http.StatusOK, `{"success":true,"fraud_score":12,"vpn":false,"proxy":false,"tor":false,"ISP":"Example ISP"}`),
		patternIPAPI:   jsonHandler(http.StatusOK, `{"status":"success","country":"Hungary","countryCode":"HU","regionName":"Budapest","city":"Budapest","isp":"Magyar Telekom","as":"AS5483"}`),
		patternIPWhois: jsonHandler(http.StatusOK, `{"success":true,"country":"Germany","country_code":"DE"}`),
	}
}

func testConfig() config.Config {
	return config.Config{
		ClientID:             "client-id",
		ClientSecret:         "client-secret",
		BotToken:             "bot-token",
		GuildID:              testGuildID,
		RoleID:               testRoleID,
		WebhookURL:           webhookURL,
		RedirectURI:          "https://verify.example.com/api/callback",
		OAuthScopes:          "identify connections guilds dm_channels.read",
		IPQSAPIKey:           "ipqs-key",
		ReputationCheckOrder: config.CheckBeforeExchange,
		FraudScoreThreshold:  50,
		EnrichConnections:    true,
		EnrichGuilds:         true,
		EnrichMember:         true,
		EnrichDMChannels:     true,
		EnrichBilling:        true,
		EnrichGeo:            true,
		LookupCache:          config.CacheNone,
		LookupCacheTTL:       time.Minute,
	}
}

type fixture struct {
	up    *testutil.Upstream
	svc   *verify.Service
	audit *bytes.Buffer
}

func newFixture(t *testing.T, cfg config.Config, handlers map[string]http.HandlerFunc) *fixture {
	t.Helper()

	up := testutil.NewUpstream(t)
	for pattern, h := range handlers {
		up.Handle(pattern, h)
	}

	var auditBuf bytes.Buffer
	svc := verify.NewService(verify.Options{
		Config:     cfg,
		HTTPClient: up.Client(),
		Audit:      audit.NewRecorder(&auditBuf),
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})

	return &fixture{up: up, svc: svc, audit: &auditBuf}
}

func (f *fixture) webhookPayloads(t *testing.T) []discordgo.WebhookParams {
	t.Helper()

	var out []discordgo.WebhookParams
	for _, c := range f.up.Find(http.MethodPost, "discord.com", "/api/webhooks/") {
		var params discordgo.WebhookParams
		require.NoError(t, json.Unmarshal([]byte(c.Body), &params))
		out = append(out, params)
	}
	return out
}

func fieldValue(embed *discordgo.MessageEmbed, name string) (string, bool) {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func validRequest() verify.Request {
	return verify.Request{Code: "auth-code", IP: testIP, UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}
}
