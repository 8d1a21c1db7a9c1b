package discord

import "github.com/bwmarrin/discordgo"

// Flag is one named bit of a Discord user's flags field.
type Flag struct {
	Bit   int
	Label string
}

// UserFlags lists the documented public user flags in bit order.
var UserFlags = []Flag{
	{1 << 0, "Discord Employee"},
	{1 << 1, "Partnered Server Owner"},
	{1 << 2, "HypeSquad Events"},
	{1 << 3, "Bug Hunter Level 1"},
	{1 << 6, "HypeSquad Bravery"},
	{1 << 7, "HypeSquad Brilliance"},
	{1 << 8, "HypeSquad Balance"},
	{1 << 9, "Early Supporter"},
	{1 << 10, "Team User"},
	{1 << 14, "Bug Hunter Level 2"},
	{1 << 16, "Verified Bot"},
	{1 << 17, "Early Verified Bot Developer"},
	{1 << 18, "Moderator Programs Alumni"},
	{1 << 19, "Bot HTTP Interactions"},
	{1 << 22, "Active Developer"},
}

// DecodeFlags returns the labels of every known bit set in flags, in table order.
func DecodeFlags(flags int) []string {
	var labels []string
	for _, f := range UserFlags {
		if flags&f.Bit != 0 {
			labels = append(labels, f.Label)
		}
	}
	return labels
}

// PremiumLabel names a user's premium_type.
func PremiumLabel(premiumType discordgo.UserPremiumType) string {
	switch premiumType {
	case discordgo.UserPremiumTypeNone:
		return "None"
	case discordgo.UserPremiumTypeNitroClassic:
		return "Nitro Classic"
	case discordgo.UserPremiumTypeNitro:
		return "Nitro"
	case discordgo.UserPremiumTypeNitroBasic:
		return "Nitro Basic"
	default:
		return "Unknown"
	}
}
