package verify

import (
	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/discord"
	"github.com/pilab-dev/discord-verifier/internal/geo"
	"github.com/pilab-dev/discord-verifier/internal/reputation"
)

// ReputationStatus describes what happened to the IP reputation check.
type ReputationStatus string

const (
	ReputationDisabled ReputationStatus = "disabled"
	ReputationSkipped  ReputationStatus = "skipped"
	ReputationError    ReputationStatus = "error"
	ReputationClean    ReputationStatus = "clean"
	ReputationFlagged  ReputationStatus = "flagged"
)

// State accumulates everything learned during one verification.
// Enrichers fill their own fields; a field left nil means unknown. The zero value is usable.
type State struct {
	Request Request

	Token *discord.TokenResponse
	User  *discordgo.User

	Reputation       *reputation.Verdict
	ReputationStatus ReputationStatus

	Connections    []*discordgo.UserConnection
	UserGuildCount int
	MutualGuilds   []*discordgo.UserGuild
	Member         *discordgo.Member
	Presence       *discordgo.Presence
	DMChannels     []*discordgo.Channel
	Billing        []discord.BillingSource
	Geo            *geo.Info

	session   *discord.UserSession
	attempted map[string]bool
	failed    map[string]error
}

// NewState starts the state of a verification for req.
func NewState(req Request) *State {
	return &State{
		Request:          req,
		ReputationStatus: ReputationDisabled,
		attempted:        map[string]bool{},
		failed:           map[string]error{},
	}
}

func (s *State) markAttempted(name string) {
	if s.attempted == nil {
		s.attempted = map[string]bool{}
	}
	s.attempted[name] = true
}

func (s *State) markFailed(name string, err error) {
	if s.failed == nil {
		s.failed = map[string]error{}
	}
	s.failed[name] = err
}

// Attempted reports whether the named enricher ran.
func (s *State) Attempted(name string) bool {
	return s.attempted[name]
}

// Failure returns the error the named enricher ended with, if any.
func (s *State) Failure(name string) error {
	return s.failed[name]
}

// Unavailable reports whether the named enricher ran and failed.
func (s *State) Unavailable(name string) bool {
	return s.attempted[name] && s.failed[name] != nil
}
