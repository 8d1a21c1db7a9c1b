package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pilab-dev/discord-verifier/cache"
	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/discord"
	verrors "github.com/pilab-dev/discord-verifier/errors"
	"github.com/pilab-dev/discord-verifier/internal/audit"
	"github.com/pilab-dev/discord-verifier/internal/geo"
	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"github.com/pilab-dev/discord-verifier/internal/reputation"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/pilab-dev/discord-verifier/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OutcomeVerified labels successful verifications; failures use the error code.
const OutcomeVerified = "verified"

// ReputationChecker scores an IP address.
type ReputationChecker interface {
	Check(ctx context.Context, ip string) (*reputation.Verdict, error)
}

// Options wires a Service. Only Config is required; the Discord client, reputation
// checker and locator are built from it when nil.
type Options struct {
	Config     config.Config
	HTTPClient *http.Client
	Cache      cache.Store

	Discord    *discord.Client
	Reputation ReputationChecker
	Locator    Locator

	Audit  *audit.Recorder
	Logger log.Logger
	Now    func() time.Time
}

// Service runs the verification flow for one callback at a time; it is safe for
// concurrent use.
type Service struct {
	cfg       config.Config
	configErr error

	discord    *discord.Client
	reputation ReputationChecker
	preRole    *Pipeline
	postRole   *Pipeline

	audit  *audit.Recorder
	logger log.Logger
	now    func() time.Time
}

// Result is a completed verification.
type Result struct {
	RedirectURL string
	State       *State
}

// NewService validates the configuration once. An invalid configuration does not
// fail construction; every Verify call then answers "Server misconfigured".
func NewService(opts Options) *Service {
	s := &Service{
		cfg:    opts.Config,
		audit:  opts.Audit,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.configErr = s.cfg.Validate()

	s.discord = opts.Discord
	if s.discord == nil {
		client, err := discord.NewClient(discord.Options{
			ClientID:     s.cfg.ClientID,
			ClientSecret: s.cfg.ClientSecret,
			RedirectURI:  s.cfg.RedirectURI,
			BotToken:     s.cfg.BotToken,
			Scopes:       s.cfg.Scopes(),
			HTTPClient:   opts.HTTPClient,
		})
		if err != nil {
			s.configErr = errors.Join(s.configErr, err)
		}
		s.discord = client
	}

	s.reputation = opts.Reputation
	if s.reputation == nil && s.cfg.ReputationEnabled() {
		s.reputation = reputation.NewChecker(s.cfg.IPQSAPIKey, opts.HTTPClient, opts.Cache, s.cfg.LookupCacheTTL, s.logger)
	}

	locator := opts.Locator
	if locator == nil && s.cfg.EnrichGeo {
		locator = geo.NewLocator(
			geo.NewIPAPIProvider(opts.HTTPClient),
			geo.NewIPWhoisProvider(opts.HTTPClient),
			opts.Cache, s.cfg.LookupCacheTTL, s.logger,
		)
	}

	// A user-token enricher without its scope would fail on every callback.
	scoped := func(enabled bool, step, scope string) bool {
		if !enabled {
			return false
		}
		if s.cfg.HasScope(scope) {
			return true
		}
		s.logger.Warn(context.Background(), "enrichment disabled, OAuth scope not requested", log.Fields{
			"step":  step,
			"scope": scope,
		})
		return false
	}

	var pre []Enricher
	if scoped(s.cfg.EnrichConnections, StepConnections, config.ScopeConnections) {
		pre = append(pre, ConnectionsEnricher{})
	}
	if scoped(s.cfg.EnrichGuilds, StepGuilds, config.ScopeGuilds) {
		pre = append(pre, GuildsEnricher{Client: s.discord})
	}
	if s.cfg.EnrichMember {
		pre = append(pre, MemberEnricher{Client: s.discord, GuildID: s.cfg.GuildID})
	}
	if s.cfg.EnrichPresence {
		pre = append(pre, PresenceEnricher{Client: s.discord, GuildID: s.cfg.GuildID})
	}
	if scoped(s.cfg.EnrichDMChannels, StepDMChannels, config.ScopeDMChannels) {
		pre = append(pre, DMChannelsEnricher{})
	}
	if s.cfg.EnrichBilling {
		pre = append(pre, BillingEnricher{})
	}
	s.preRole = NewPipeline(s.logger, pre...)

	var post []Enricher
	if s.cfg.EnrichGeo && locator != nil {
		post = append(post, GeoEnricher{Locator: locator})
	}
	s.postRole = NewPipeline(s.logger, post...)

	return s
}

// Discord is the client the service talks to Discord with.
func (s *Service) Discord() *discord.Client {
	return s.discord
}

// ConfigError is the validation error found at construction, if any.
func (s *Service) ConfigError() error {
	return s.configErr
}

// LoginURL is the Discord consent page the user starts from.
func (s *Service) LoginURL(state string) string {
	if s.discord == nil {
		return ""
	}
	return s.discord.AuthCodeURL(state)
}

// Verify runs the callback flow. Only the token exchange, profile fetch and role
// assignment can end it early; every returned error is a *errors.VerifyError.
func (s *Service) Verify(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "verify")
	defer span.End()

	start := s.now()
	st := NewState(req)

	defer func() {
		if r := recover(); r != nil {
			err = verrors.NewServerError(fmt.Errorf("panic during verification: %v", r))
			res = nil
		}
		if err != nil {
			err = verrors.FromError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.finish(ctx, st, start, err)
	}()

	if req.Code == "" {
		return nil, verrors.NewMissingCode()
	}
	if s.configErr != nil {
		return nil, verrors.NewMisconfigured(s.configErr)
	}

	if s.cfg.ReputationCheckOrder != config.CheckAfterExchange {
		if err := s.checkReputation(ctx, st); err != nil {
			return nil, err
		}
	}

	tok, err := s.discord.ExchangeCode(ctx, req.Code)
	if err != nil {
		return nil, verrors.NewServerError(err)
	}
	if tok.AccessToken == "" {
		s.logger.Warn(ctx, "token exchange rejected", log.Fields{
			"status": tok.StatusCode,
			"body":   tok.RawBody,
		})
		return nil, verrors.NewTokenExchangeFailed(tok.RawBody)
	}
	st.Token = tok

	if s.cfg.ReputationCheckOrder == config.CheckAfterExchange {
		if err := s.checkReputation(ctx, st); err != nil {
			return nil, err
		}
	}

	session, err := s.discord.UserSession(tok)
	if err != nil {
		return nil, verrors.NewServerError(err)
	}
	user, err := session.CurrentUser(ctx)
	if err != nil {
		return nil, verrors.NewProfileFetchFailed(err)
	}
	if user == nil || user.ID == "" {
		return nil, verrors.NewProfileFetchFailed(errors.New("profile has no id"))
	}
	st.User = user
	st.session = session
	span.SetAttributes(attribute.String("discord.user_id", user.ID))

	s.preRole.Run(ctx, st)

	if err := s.discord.AddGuildRole(ctx, s.cfg.GuildID, user.ID, s.cfg.RoleID); err != nil {
		body := discord.ErrorBody(err)
		s.logger.Error(ctx, "failed to assign role", err, log.Fields{
			"user_id": user.ID,
			"body":    body,
		})
		return nil, verrors.NewRoleAssignmentFailed(body, err)
	}

	s.postRole.Run(ctx, st)

	s.notify(ctx, st)

	return &Result{RedirectURL: s.cfg.SuccessURL(), State: st}, nil
}

// checkReputation rejects flagged connections. Lookup failures let the flow continue.
func (s *Service) checkReputation(ctx context.Context, st *State) error {
	if s.reputation == nil {
		st.ReputationStatus = ReputationDisabled
		return nil
	}

	ctx, span := tracing.Tracer().Start(ctx, "reputation.check")
	defer span.End()

	verdict, err := s.reputation.Check(ctx, st.Request.IP)
	switch {
	case errors.Is(err, reputation.ErrInvalidIP):
		st.ReputationStatus = ReputationSkipped
	case err != nil:
		st.ReputationStatus = ReputationError
		span.RecordError(err)
		s.logger.Warn(ctx, "reputation lookup failed", log.Fields{"error": err.Error()})
	case verdict.Flagged(s.cfg.FraudScoreThreshold):
		st.Reputation = verdict
		st.ReputationStatus = ReputationFlagged
	default:
		st.Reputation = verdict
		st.ReputationStatus = ReputationClean
	}
	metrics.ReputationChecksTotal.WithLabelValues(string(st.ReputationStatus)).Inc()

	if st.ReputationStatus == ReputationFlagged {
		reasons := strings.Join(verdict.Reasons(s.cfg.FraudScoreThreshold), ",")
		s.logger.Info(ctx, "connection rejected by reputation check", log.Fields{
			"ip":      st.Request.IP,
			"reasons": reasons,
		})
		return verrors.NewReputationRejected(reasons)
	}
	return nil
}

// notify posts the audit embed once. Failures are logged and counted only.
func (s *Service) notify(ctx context.Context, st *State) {
	ctx, span := tracing.Tracer().Start(ctx, "webhook.post")
	defer span.End()

	embed := BuildEmbed(st, s.cfg, s.now())
	err := s.discord.PostWebhook(ctx, s.cfg.WebhookURL, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		span.RecordError(err)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		s.logger.Error(ctx, "failed to deliver audit webhook", err, log.Fields{"user_id": st.User.ID})
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (s *Service) finish(ctx context.Context, st *State, start time.Time, err error) {
	outcome := OutcomeVerified
	event := audit.Event{
		Action:  "verify",
		IP:      st.Request.IP,
		GuildID: s.cfg.GuildID,
		Success: err == nil,
	}
	if err != nil {
		ve := verrors.FromError(err)
		outcome = ve.Code
		event.Error = ve.Error()
	}
	if st.User != nil {
		event.UserID = st.User.ID
		event.Username = st.User.Username
	}
	event.Outcome = outcome
	event.Details = string(st.ReputationStatus)

	metrics.VerificationsTotal.WithLabelValues(outcome).Inc()
	metrics.VerificationDuration.Observe(s.now().Sub(start).Seconds())
	s.audit.Record(ctx, event)

	fields := log.Fields{"outcome": outcome, "ip": st.Request.IP}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if err != nil {
		s.logger.Warn(ctx, "verification failed", fields)
		return
	}
	s.logger.Info(ctx, "user verified", fields)
}
