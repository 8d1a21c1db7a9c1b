package discord_test

import (
	"encoding/json"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlags(t *testing.T) {
	assert.Empty(t, discord.DecodeFlags(0))

	flags := 1<<0 | 1<<7 | 1<<22
	assert.Equal(t, []string{"Discord Employee", "HypeSquad Brilliance", "Active Developer"}, discord.DecodeFlags(flags))
}

func TestDecodeFlags_IgnoresUnknownBits(t *testing.T) {
	assert.Equal(t, []string{"Early Supporter"}, discord.DecodeFlags(1<<9|1<<12|1<<30))
}

func TestUserFlagsTableIsSingleBits(t *testing.T) {
	seen := map[int]bool{}
	for _, f := range discord.UserFlags {
		assert.NotZero(t, f.Bit)
		assert.Zero(t, f.Bit&(f.Bit-1), "%s is not a single bit", f.Label)
		assert.False(t, seen[f.Bit], "duplicate bit for %s", f.Label)
		seen[f.Bit] = true
	}
}

func TestPremiumLabel(t *testing.T) {
	assert.Equal(t, "None", discord.PremiumLabel(discordgo.UserPremiumTypeNone))
	assert.Equal(t, "Nitro Classic", discord.PremiumLabel(discordgo.UserPremiumTypeNitroClassic))
	assert.Equal(t, "Nitro", discord.PremiumLabel(discordgo.UserPremiumTypeNitro))
	assert.Equal(t, "Nitro Basic", discord.PremiumLabel(discordgo.UserPremiumTypeNitroBasic))
	assert.Equal(t, "Unknown", discord.PremiumLabel(9))

	var user discordgo.User
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","premium_type":2}`), &user))
	assert.Equal(t, "Nitro", discord.PremiumLabel(user.PremiumType))
}
