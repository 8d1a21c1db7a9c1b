package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/discord"
	"github.com/pilab-dev/discord-verifier/internal/geo"
	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/pilab-dev/discord-verifier/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Enricher names, used as metric labels and embed keys.
const (
	StepConnections = "connections"
	StepGuilds      = "guilds"
	StepMember      = "member"
	StepDMChannels  = "dm_channels"
	StepBilling     = "billing"
	StepPresence    = "presence"
	StepGeo         = "geo"
)

var errNoSession = errors.New("no user session")

// Enricher is one best-effort step. Errors it returns are logged and recorded on the
// State, never propagated to the caller.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, st *State) error
}

// Locator resolves an IP address to location metadata.
type Locator interface {
	Locate(ctx context.Context, ip string) (*geo.Info, error)
}

// Pipeline runs enrichers in order, isolating each one's failures.
type Pipeline struct {
	enrichers []Enricher
	logger    log.Logger
}

// NewPipeline creates a Pipeline. A nil logger discards output.
func NewPipeline(logger log.Logger, enrichers ...Enricher) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{enrichers: enrichers, logger: logger}
}

// Names lists the enrichers in run order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.enrichers))
	for _, e := range p.enrichers {
		names = append(names, e.Name())
	}
	return names
}

// Run applies every enricher to st.
func (p *Pipeline) Run(ctx context.Context, st *State) {
	for _, e := range p.enrichers {
		p.run(ctx, e, st)
	}
}

func (p *Pipeline) run(ctx context.Context, e Enricher, st *State) {
	name := e.Name()
	ctx, span := tracing.Tracer().Start(ctx, "enrich."+name)
	defer span.End()

	st.markAttempted(name)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("enricher panicked: %v", r)
			}
		}()
		return e.Enrich(ctx, st)
	}()
	if err == nil {
		return
	}

	st.markFailed(name, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "enrichment failed")
	span.SetAttributes(attribute.Bool("enrich.skipped", true))
	metrics.EnrichmentFailuresTotal.WithLabelValues(name).Inc()
	p.logger.Warn(ctx, "enrichment step failed", log.Fields{
		"step":  name,
		"error": err.Error(),
	})
}

// ConnectionsEnricher loads the user's linked accounts.
type ConnectionsEnricher struct{}

func (ConnectionsEnricher) Name() string { return StepConnections }

func (ConnectionsEnricher) Enrich(ctx context.Context, st *State) error {
	if st.session == nil {
		return errNoSession
	}
	conns, err := st.session.Connections(ctx)
	if err != nil {
		return fmt.Errorf("fetch connections: %w", err)
	}
	st.Connections = conns
	return nil
}

// GuildsEnricher computes the guilds both the user and the bot are in.
type GuildsEnricher struct {
	Client *discord.Client
}

func (GuildsEnricher) Name() string { return StepGuilds }

func (g GuildsEnricher) Enrich(ctx context.Context, st *State) error {
	if st.session == nil {
		return errNoSession
	}
	userGuilds, err := st.session.Guilds(ctx)
	if err != nil {
		return fmt.Errorf("fetch user guilds: %w", err)
	}
	st.UserGuildCount = len(userGuilds)

	botGuilds, err := g.Client.BotGuilds(ctx)
	if err != nil {
		return fmt.Errorf("fetch bot guilds: %w", err)
	}
	st.MutualGuilds = MutualGuilds(userGuilds, botGuilds)
	return nil
}

// MutualGuilds returns the guilds of a that also appear in b, keeping a's order.
func MutualGuilds(a, b []*discordgo.UserGuild) []*discordgo.UserGuild {
	ids := make(map[string]struct{}, len(b))
	for _, g := range b {
		ids[g.ID] = struct{}{}
	}
	mutual := []*discordgo.UserGuild{}
	for _, g := range a {
		if _, ok := ids[g.ID]; ok {
			mutual = append(mutual, g)
		}
	}
	return mutual
}

// MemberEnricher loads the user's member record in the target guild.
type MemberEnricher struct {
	Client  *discord.Client
	GuildID string
}

func (MemberEnricher) Name() string { return StepMember }

func (m MemberEnricher) Enrich(ctx context.Context, st *State) error {
	if st.User == nil {
		return errors.New("no user")
	}
	member, err := m.Client.GuildMember(ctx, m.GuildID, st.User.ID)
	if err != nil {
		return fmt.Errorf("fetch guild member: %w", err)
	}
	st.Member = member
	return nil
}

// DMChannelsEnricher loads the user's open DM channels.
type DMChannelsEnricher struct{}

func (DMChannelsEnricher) Name() string { return StepDMChannels }

func (DMChannelsEnricher) Enrich(ctx context.Context, st *State) error {
	if st.session == nil {
		return errNoSession
	}
	channels, err := st.session.Channels(ctx)
	if err != nil {
		return fmt.Errorf("fetch dm channels: %w", err)
	}
	st.DMChannels = channels
	return nil
}

// BillingEnricher attempts to read payment sources. Discord refuses this for
// most OAuth tokens.
type BillingEnricher struct{}

func (BillingEnricher) Name() string { return StepBilling }

func (BillingEnricher) Enrich(ctx context.Context, st *State) error {
	if st.session == nil {
		return errNoSession
	}
	sources, err := st.session.BillingSources(ctx)
	if err != nil {
		return fmt.Errorf("fetch billing sources: %w", err)
	}
	st.Billing = sources
	return nil
}

// PresenceEnricher reads the user's last presence from the bot's gateway state.
// It only finds anything once Client.OpenGateway has connected.
type PresenceEnricher struct {
	Client  *discord.Client
	GuildID string
}

func (PresenceEnricher) Name() string { return StepPresence }

func (p PresenceEnricher) Enrich(_ context.Context, st *State) error {
	if st.User == nil {
		return errors.New("no user")
	}
	presence, err := p.Client.Presence(p.GuildID, st.User.ID)
	if err != nil {
		return err
	}
	st.Presence = presence
	return nil
}

// GeoEnricher resolves the client IP's location.
type GeoEnricher struct {
	Locator Locator
}

func (GeoEnricher) Name() string { return StepGeo }

func (g GeoEnricher) Enrich(ctx context.Context, st *State) error {
	info, err := g.Locator.Locate(ctx, st.Request.IP)
	if err != nil {
		return fmt.Errorf("locate %s: %w", st.Request.IP, err)
	}
	st.Geo = info
	return nil
}
