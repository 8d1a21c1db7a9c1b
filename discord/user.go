package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// BillingSource is the subset of a payment source shown in audit messages.
type BillingSource struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	Brand   string `json:"brand,omitempty"`
	Invalid bool   `json:"invalid"`
	Country string `json:"country,omitempty"`
}

// UserSession wraps a bearer-authenticated discordgo session for one verification.
type UserSession struct {
	s *discordgo.Session
}

// CurrentUser fetches /users/@me.
func (u *UserSession) CurrentUser(ctx context.Context) (*discordgo.User, error) {
	return u.s.User("@me", discordgo.WithContext(ctx))
}

// Connections fetches /users/@me/connections; requires the connections scope.
func (u *UserSession) Connections(ctx context.Context) ([]*discordgo.UserConnection, error) {
	return u.s.UserConnections(discordgo.WithContext(ctx))
}

// Guilds fetches /users/@me/guilds; requires the guilds scope.
func (u *UserSession) Guilds(ctx context.Context) ([]*discordgo.UserGuild, error) {
	return listGuilds(ctx, u.s)
}

// Channels fetches /users/@me/channels; requires the dm_channels.read scope.
func (u *UserSession) Channels(ctx context.Context) ([]*discordgo.Channel, error) {
	body, err := u.s.RequestWithBucketID(http.MethodGet, discordgo.EndpointUserChannels("@me"), nil,
		discordgo.EndpointUserChannels(""), discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	var channels []*discordgo.Channel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return channels, nil
}

// BillingSources fetches /users/@me/billing/payment-sources. OAuth tokens are normally
// refused here, so callers must treat failure as the usual case.
func (u *UserSession) BillingSources(ctx context.Context) ([]BillingSource, error) {
	endpoint := discordgo.EndpointUsers + "@me/billing/payment-sources"
	body, err := u.s.RequestWithBucketID(http.MethodGet, endpoint, nil, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	var sources []BillingSource
	if err := json.Unmarshal(body, &sources); err != nil {
		return nil, fmt.Errorf("decode billing sources: %w", err)
	}
	return sources, nil
}
