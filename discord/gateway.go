package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// PresenceIntents are the gateway intents the bot needs for presences of guild members.
// GuildPresences and GuildMembers are privileged and must be enabled for the application.
const PresenceIntents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences

// ErrPresenceUnknown is returned when the gateway has not reported a presence for the user.
var ErrPresenceUnknown = errors.New("presence not tracked")

// OpenGateway connects the bot session to the gateway. From then on the session
// state tracks member presences of the bot's guilds.
func (c *Client) OpenGateway() error {
	c.bot.Identify.Intents = PresenceIntents
	c.bot.StateEnabled = true
	c.bot.State.TrackPresences = true
	if err := c.bot.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// CloseGateway disconnects a session opened with OpenGateway.
func (c *Client) CloseGateway() error {
	return c.bot.Close()
}

// Presence returns the last presence the gateway reported for userID in guildID.
func (c *Client) Presence(guildID, userID string) (*discordgo.Presence, error) {
	p, err := c.bot.State.Presence(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPresenceUnknown, err)
	}
	return p, nil
}
