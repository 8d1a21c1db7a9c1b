package verify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/discord"
)

// Webhook embed limits.
const (
	MaxEmbedFields  = 25
	MaxFieldValue   = 1024
	MaxHeaderValue  = 200
	MaxListEntries  = 10
	EmbedColor      = 0x7289DA
	EmbedTitle      = "New User Verified"
	PlaceholderNA   = "Unavailable"
	PlaceholderNone = "None"
	PlaceholderUnk  = "Unknown"
)

type fieldList []*discordgo.MessageEmbedField

func (f *fieldList) add(name, value string, inline bool) {
	if len(*f) >= MaxEmbedFields {
		return
	}
	if strings.TrimSpace(value) == "" {
		value = PlaceholderUnk
	}
	*f = append(*f, &discordgo.MessageEmbedField{
		Name:   name,
		Value:  truncate(value, MaxFieldValue),
		Inline: inline,
	})
}

// BuildEmbed composes the audit message for a verified user. Enrichment steps
// that ran and failed render PlaceholderNA; steps that were disabled are omitted.
func BuildEmbed(st *State, cfg config.Config, now time.Time) *discordgo.MessageEmbed {
	user := st.User
	if user == nil {
		user = &discordgo.User{}
	}

	var fields fieldList

	fields.add("Username", displayTag(user), true)
	fields.add("User ID", user.ID, true)
	fields.add("Display Name", orDefault(user.GlobalName, PlaceholderNone), true)
	fields.add("Account Created", discord.FormatCreatedAt(user.ID), true)
	fields.add("Email", emailSummary(user), true)
	fields.add("Nitro", discord.PremiumLabel(user.PremiumType), true)
	fields.add("Badges", joinOr(discord.DecodeFlags(user.Flags|int(user.PublicFlags)), ", ", PlaceholderNone), false)
	fields.add("Account", fmt.Sprintf("MFA: %t | Locale: %s | Bot: %t", user.MFAEnabled, orDefault(user.Locale, PlaceholderUnk), user.Bot), false)

	fields.add("IP Address", truncate(st.Request.IP, MaxHeaderValue), false)
	fields.add("User Agent", truncate(st.Request.UserAgent, MaxHeaderValue), false)

	if st.Attempted(StepGeo) {
		fields.add("Location", geoSummary(st), false)
	}
	if st.ReputationStatus != ReputationDisabled {
		fields.add("IP Reputation", reputationSummary(st), false)
	}

	if tok := st.Token; tok != nil {
		fields.add("Token Type", tok.TokenType, true)
		fields.add("Scope", tok.Scope, true)
		fields.add("Expires In (seconds)", tok.ExpiresInString(), true)
		if tok.RateLimit.Present() {
			fields.add("Rate Limit", fmt.Sprintf("%s/%s remaining, resets in %ss (bucket %s)",
				orDefault(tok.RateLimit.Remaining, "?"), orDefault(tok.RateLimit.Limit, "?"),
				orDefault(tok.RateLimit.ResetAfter, "?"), orDefault(tok.RateLimit.Bucket, "?")), false)
		}
	}

	if st.Attempted(StepMember) {
		fields.add("Guild Member", memberSummary(st), false)
	}
	if st.Attempted(StepPresence) {
		fields.add("Presence", presenceSummary(st), false)
	}
	if st.Attempted(StepConnections) {
		fields.add("Connections", connectionsSummary(st), false)
	}
	if st.Attempted(StepGuilds) {
		fields.add("Mutual Guilds", guildsSummary(st), false)
	}
	if st.Attempted(StepDMChannels) {
		fields.add("DM Channels", dmSummary(st), false)
	}
	if st.Attempted(StepBilling) {
		fields.add("Billing", billingSummary(st), false)
	}

	embed := &discordgo.MessageEmbed{
		Title:     EmbedTitle,
		Color:     EmbedColor,
		Fields:    fields,
		Timestamp: now.UTC().Format(discord.ISO8601Millis),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Guild " + cfg.GuildID},
	}
	if user.Avatar != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL("1024")}
	}
	return embed
}

func displayTag(u *discordgo.User) string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

func emailSummary(u *discordgo.User) string {
	if u.Email == "" {
		return "Not shared"
	}
	if u.Verified {
		return u.Email + " (verified)"
	}
	return u.Email + " (unverified)"
}

func geoSummary(st *State) string {
	if st.Unavailable(StepGeo) || st.Geo == nil {
		return PlaceholderNA
	}
	g := st.Geo
	location := g.Location()
	if location == "" {
		location = PlaceholderUnk
	}
	if g.CountryCode != "" {
		location += " (" + g.CountryCode + ")"
	}
	lines := []string{location}
	if g.ISP != "" || g.Org != "" {
		lines = append(lines, "ISP: "+orDefault(g.ISP, g.Org))
	}
	if g.AS != "" {
		lines = append(lines, "AS: "+g.AS)
	}
	if g.Timezone != "" {
		lines = append(lines, "Timezone: "+g.Timezone)
	}
	if g.Mobile || g.Proxy || g.Hosting {
		lines = append(lines, fmt.Sprintf("Mobile: %t | Proxy: %t | Hosting: %t", g.Mobile, g.Proxy, g.Hosting))
	}
	if g.Source != "" {
		lines = append(lines, "Source: "+g.Source)
	}
	return strings.Join(lines, "\n")
}

func reputationSummary(st *State) string {
	switch st.ReputationStatus {
	case ReputationSkipped:
		return "Skipped (no routable IP)"
	case ReputationError:
		return PlaceholderNA
	default:
		return st.Reputation.Summary()
	}
}

func memberSummary(st *State) string {
	if st.Unavailable(StepMember) || st.Member == nil {
		return PlaceholderNA
	}
	m := st.Member
	joined := PlaceholderUnk
	if !m.JoinedAt.IsZero() {
		joined = m.JoinedAt.UTC().Format(discord.ISO8601Millis)
	}
	return fmt.Sprintf("Nickname: %s\nJoined: %s\nRoles: %d",
		orDefault(m.Nick, PlaceholderNone), joined, len(m.Roles))
}

func presenceSummary(st *State) string {
	if st.Unavailable(StepPresence) || st.Presence == nil {
		return PlaceholderNA
	}
	p := st.Presence
	lines := []string{"Status: " + orDefault(string(p.Status), PlaceholderUnk)}
	for _, a := range p.Activities {
		if a == nil || a.Name == "" {
			continue
		}
		line := a.Name
		if a.State != "" {
			line += ": " + a.State
		}
		lines = append(lines, line)
	}
	return capList(lines, PlaceholderNone)
}

func connectionsSummary(st *State) string {
	if st.Unavailable(StepConnections) {
		return PlaceholderNA
	}
	lines := make([]string, 0, len(st.Connections))
	for _, c := range st.Connections {
		line := fmt.Sprintf("%s: %s", c.Type, c.Name)
		if c.Revoked {
			line += " (revoked)"
		}
		lines = append(lines, line)
	}
	return capList(lines, PlaceholderNone)
}

func guildsSummary(st *State) string {
	if st.Unavailable(StepGuilds) {
		return PlaceholderNA
	}
	names := make([]string, 0, len(st.MutualGuilds))
	for _, g := range st.MutualGuilds {
		name := g.Name
		if g.Owner {
			name += " (owner)"
		}
		names = append(names, name)
	}
	header := fmt.Sprintf("In %d guilds, %d shared with the bot", st.UserGuildCount, len(st.MutualGuilds))
	if len(names) == 0 {
		return header
	}
	return header + "\n" + capList(names, "")
}

func dmSummary(st *State) string {
	if st.Unavailable(StepDMChannels) {
		return PlaceholderNA
	}
	lines := make([]string, 0, len(st.DMChannels))
	for _, ch := range st.DMChannels {
		var recipients []string
		for _, r := range ch.Recipients {
			recipients = append(recipients, r.Username)
		}
		lines = append(lines, joinOr(recipients, ", ", ch.ID))
	}
	return capList(lines, PlaceholderNone)
}

func billingSummary(st *State) string {
	if st.Unavailable(StepBilling) {
		return PlaceholderNA
	}
	lines := make([]string, 0, len(st.Billing))
	for _, b := range st.Billing {
		line := orDefault(b.Brand, fmt.Sprintf("type %d", b.Type))
		if b.Country != "" {
			line += " (" + b.Country + ")"
		}
		if b.Invalid {
			line += " invalid"
		}
		lines = append(lines, line)
	}
	return capList(lines, PlaceholderNone)
}

// capList renders at most MaxListEntries lines and a "+N more" suffix.
func capList(lines []string, empty string) string {
	if len(lines) == 0 {
		return empty
	}
	if len(lines) <= MaxListEntries {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:MaxListEntries], "\n") + fmt.Sprintf("\n+%d more", len(lines)-MaxListEntries)
}

func joinOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, sep)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
