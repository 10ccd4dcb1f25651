package bot

import (
	"context"
	"errors"
	"time"

	"pdr-security/internal/analytics"
	"pdr-security/internal/config"
	"pdr-security/internal/engine"
	"pdr-security/internal/exempt"
	"pdr-security/internal/modules/antibot"
	"pdr-security/internal/modules/antiinvite"
	"pdr-security/internal/modules/antilink"
	"pdr-security/internal/modules/antimention"
	"pdr-security/internal/modules/antinuke"
	"pdr-security/internal/modules/antirole"
	"pdr-security/internal/modules/antispam"
	"pdr-security/internal/modules/antiwebhook"
	"pdr-security/internal/modules/audit"
	"pdr-security/internal/platform"
	"pdr-security/internal/playbook"
	"pdr-security/internal/punish"
	"pdr-security/internal/recovery"
	"pdr-security/internal/settings"
	"pdr-security/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const handlerTimeout = 30 * time.Second

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	settings  *settings.Holder
	gate      *exempt.Gate
	audit     *audit.Logger
	analytics *analytics.Service

	session  *discordgo.Session
	discord  *platform.Discord
	roles    *platform.RoleCache
	recovery *recovery.Service
	playbook *playbook.Engine
	engine   *engine.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, holder *settings.Holder, gate *exempt.Gate, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	if cfg.DiscordToken == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentsMessageContent

	discord := platform.NewDiscord(session, logger)
	restorer := recovery.New(store, discord, logger)
	rules := engine.Rules{
		Spam:    antispam.New(gate, cfg.Thresholds.SpamMessages, cfg.Thresholds.SpamWindow()),
		Nuke:    antinuke.New(gate, cfg.Thresholds.NukeActions, cfg.Thresholds.NukeWindow()),
		Invite:  antiinvite.New(gate),
		Mention: antimention.New(gate),
		Webhook: antiwebhook.New(gate),
		Bot:     antibot.New(gate),
		Role:    antirole.New(gate),
		Link:    antilink.New(gate),
	}
	punisher := punish.New(discord, cfg.Enforcement.Timeout(), logger)
	coordinator := engine.New(discord, holder, rules, punisher, restorer, auditLogger, logger, engine.Options{
		AuditGrace: cfg.Enforcement.AuditGrace(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		settings:  holder,
		gate:      gate,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		discord:   discord,
		roles:     platform.NewRoleCache(),
		recovery:  restorer,
		playbook:  playbook.New(discord, auditLogger),
		engine:    coordinator,
		ctx:       ctx,
		cancel:    cancel,
	}
	if auditLogger != nil {
		auditLogger.SetNotifier(coordinator.Notify)
	}
	return b, nil
}

// Platform exposes the Discord adapter for the presence task.
func (b *Bot) Platform() *platform.Discord {
	return b.discord
}

func (b *Bot) Coordinator() *engine.Coordinator {
	return b.engine
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleUpdate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	if err := b.engine.Close(ctx); err != nil {
		b.logger.Warn("coordinator close timed out", zap.Error(err))
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

// eventContext bounds the work a single gateway event may trigger.
func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, handlerTimeout)
}
