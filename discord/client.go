package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"
)

var (
	TokenEndpoint     = "https://discord.com/api/oauth2/token"
	AuthorizeEndpoint = "https://discord.com/oauth2/authorize"
)

// maxBodyBytes bounds every upstream body read.
const maxBodyBytes = 1 << 20

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BotToken     string
	Scopes       []string
	HTTPClient   *http.Client
}

// Client talks to the Discord OAuth2 endpoints and REST API.
// The bot session is shared between requests; user sessions are created per request.
type Client struct {
	httpClient *http.Client
	oauth      *oauth2.Config
	bot        *discordgo.Session
}

// NewClient builds a Client. A nil HTTPClient gets a 10 second timeout.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	bot, err := newSession("Bot "+opts.BotToken, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create bot session: %w", err)
	}

	return &Client{
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   AuthorizeEndpoint,
				TokenURL:  TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		bot: bot,
	}, nil
}

// newSession creates a REST-only session: no retries on 5xx and no waiting on 429s.
func newSession(authorization string, httpClient *http.Client) (*discordgo.Session, error) {
	s, err := discordgo.New(authorization)
	if err != nil {
		return nil, err
	}
	s.Client = httpClient
	s.MaxRestRetries = 0
	s.ShouldRetryOnRateLimit = false
	return s, nil
}

// AuthCodeURL is the Discord consent page for the configured application.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExchangeCode posts the authorization code to the token endpoint.
// It only fails when the request cannot be made or read; a rejected code is reported
// through an empty AccessToken with RawBody holding Discord's answer.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.oauth.ClientID)
	form.Set("client_secret", c.oauth.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.oauth.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	return ParseTokenResponse(resp.StatusCode, resp.Header, body), nil
}

// UserSession opens a bearer-authenticated session for the token's owner.
func (c *Client) UserSession(tok *TokenResponse) (*UserSession, error) {
	s, err := newSession(tok.Authorization(), c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("create user session: %w", err)
	}
	return &UserSession{s: s}, nil
}

// AddGuildRole grants roleID to userID with the bot's credentials.
// Discord treats re-adding a held role as a no-op.
func (c *Client) AddGuildRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.bot.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// GuildMember loads the user's member record in guildID with the bot's credentials.
func (c *Client) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	return c.bot.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

// BotGuilds lists the guilds the bot is in.
func (c *Client) BotGuilds(ctx context.Context) ([]*discordgo.UserGuild, error) {
	return listGuilds(ctx, c.bot)
}

// PostWebhook executes an incoming webhook once. Non-2xx answers are returned as errors.
func (c *Client) PostWebhook(ctx context.Context, webhookURL string, params *discordgo.WebhookParams) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("webhook rejected: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ErrorBody extracts the response body Discord sent with a failed REST call,
// falling back to the error text.
func ErrorBody(err error) string {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && len(restErr.ResponseBody) > 0 {
		return string(restErr.ResponseBody)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func listGuilds(ctx context.Context, s *discordgo.Session) ([]*discordgo.UserGuild, error) {
	body, err := s.RequestWithBucketID(http.MethodGet, discordgo.EndpointUserGuilds("@me"), nil,
		discordgo.EndpointUserGuilds(""), discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	var guilds []*discordgo.UserGuild
	if err := json.Unmarshal(body, &guilds); err != nil {
		return nil, fmt.Errorf("decode guilds: %w", err)
	}
	return guilds, nil
}
