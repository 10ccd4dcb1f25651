// Package engine routes platform events through the exemption gate, the
// detection rules and the punishment executor.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pdr-security/internal/metrics"
	"pdr-security/internal/models"
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
	"pdr-security/internal/punish"
	"pdr-security/internal/recovery"
	"pdr-security/internal/settings"
	"pdr-security/internal/utils"

	"go.uber.org/zap"
)

const (
	defaultAuditGrace  = 500 * time.Millisecond
	defaultMaxAuditAge = 30 * time.Second
)

type Settings interface {
	Current() *settings.Configuration
}

type Rules struct {
	Spam    *antispam.Module
	Nuke    *antinuke.Module
	Invite  *antiinvite.Module
	Mention *antimention.Module
	Webhook *antiwebhook.Module
	Bot     *antibot.Module
	Role    *antirole.Module
	Link    *antilink.Module
}

type Options struct {
	AuditGrace  time.Duration
	MaxAuditAge time.Duration
	Clock       utils.Clock
}

type Coordinator struct {
	client   platform.Client
	settings Settings
	rules    Rules
	punisher *punish.Executor
	recovery *recovery.Service
	audit    *audit.Logger
	logger   *zap.Logger
	clock    utils.Clock
	grace    time.Duration
	maxAge   time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	lifeMu  sync.Mutex
	closed  bool
	running sync.WaitGroup
}

func New(client platform.Client, cfg Settings, rules Rules, punisher *punish.Executor, restorer *recovery.Service, auditLogger *audit.Logger, logger *zap.Logger, opts Options) *Coordinator {
	if opts.AuditGrace <= 0 {
		opts.AuditGrace = defaultAuditGrace
	}
	if opts.MaxAuditAge <= 0 {
		opts.MaxAuditAge = defaultMaxAuditAge
	}
	if opts.Clock == nil {
		opts.Clock = utils.RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:   client,
		settings: cfg,
		rules:    rules,
		punisher: punisher,
		recovery: restorer,
		audit:    auditLogger,
		logger:   logger,
		clock:    opts.Clock,
		grace:    opts.AuditGrace,
		maxAge:   opts.MaxAuditAge,
		seen:     make(map[string]time.Time),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Close stops deferred lookups and waits for running ones to finish.
func (c *Coordinator) Close(ctx context.Context) error {
	c.lifeMu.Lock()
	c.closed = true
	c.lifeMu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) config() *settings.Configuration {
	if cfg := c.settings.Current(); cfg != nil {
		return cfg
	}
	defaults := settings.Defaults()
	return &defaults
}

// HandleMessage runs the invite, mention and spam rules in that order and
// acts on the first verdict.
func (c *Coordinator) HandleMessage(ctx context.Context, ev MessageEvent) {
	metrics.RecordEvent("message_created")
	msg := ev.Message
	if msg.Author.Automation || msg.Author.ID == "" {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = c.clock.Now()
	}
	cfg := c.config()
	started := time.Now()

	if verdict, ok := c.rules.Invite.Evaluate(msg, ev.Community, cfg.Module(models.ModuleInvite)); ok {
		c.deleteMessage(ctx, msg)
		c.enforce(ctx, ev.Community, verdict, started)
		return
	}
	if verdict, ok := c.rules.Mention.Evaluate(msg, ev.Community, cfg.Module(models.ModuleMention)); ok {
		c.deleteMessage(ctx, msg)
		c.enforce(ctx, ev.Community, verdict, started)
		return
	}
	if verdict, ok := c.rules.Spam.Evaluate(msg, ev.Community, cfg.Module(models.ModuleSpam)); ok {
		purged, err := c.client.PurgeMessages(ctx, msg.ChannelID, msg.Author.ID, c.rules.Spam.Threshold())
		if err != nil {
			c.logger.Warn("spam purge failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
		} else {
			c.logger.Debug("spam purged", zap.String("channel_id", msg.ChannelID), zap.Int("messages", purged))
		}
		c.enforce(ctx, ev.Community, verdict, started)
	}
}

// HandleMemberJoin checks the display name of every new member and, for
// automation accounts, schedules bot-add attribution.
func (c *Coordinator) HandleMemberJoin(ctx context.Context, ev MemberJoinEvent) {
	metrics.RecordEvent("member_joined")
	c.checkDisplayName(ctx, ev.Community, ev.Member, ev.Member.Name)
	if ev.Member.Automation {
		added := ev.Member
		c.attribute(ev.Community, models.AuditBotAdd, added.ID, antibot.Rule, func(ctx context.Context, adder models.Actor, _ models.AuditEntry) {
			verdict, ok := c.rules.Bot.Evaluate(ev.Community, adder, added, c.config().Module(models.ModuleBot))
			if !ok {
				return
			}
			started := time.Now()
			if err := c.client.Kick(ctx, ev.Community.ID, added.ID, "Unauthorized bot add"); err != nil {
				c.logger.Warn("kick added bot failed", zap.String("bot_id", added.ID), zap.Error(err))
			}
			c.enforce(ctx, ev.Community, verdict, started)
		})
	}
}

func (c *Coordinator) HandleMemberUpdate(ctx context.Context, ev MemberUpdateEvent) {
	metrics.RecordEvent("member_role_updated")
	if ev.NewName != "" && ev.NewName != ev.OldName {
		c.checkDisplayName(ctx, ev.Community, ev.Member, ev.NewName)
	}
	if len(antirole.Dangerous(ev.AddedRoles)) == 0 {
		return
	}
	member := ev.Member
	added := ev.AddedRoles
	c.attribute(ev.Community, models.AuditMemberRoleUpdate, member.ID, antirole.Rule, func(ctx context.Context, granter models.Actor, _ models.AuditEntry) {
		verdict, dangerous, ok := c.rules.Role.Evaluate(ev.Community, granter, added, c.config().Module(models.ModuleRole))
		if !ok {
			return
		}
		started := time.Now()
		for _, role := range dangerous {
			if err := c.client.RemoveRole(ctx, ev.Community.ID, member.ID, role.ID); err != nil {
				c.logger.Warn("remove dangerous role failed", zap.String("user_id", member.ID), zap.String("role_id", role.ID), zap.Error(err))
			}
		}
		c.enforce(ctx, ev.Community, verdict, started)
	})
}

func (c *Coordinator) HandleBan(_ context.Context, ev MemberBanEvent) {
	metrics.RecordEvent("member_banned")
	c.attribute(ev.Community, models.AuditBan, ev.TargetID, antinuke.RuleMassBan, func(ctx context.Context, actor models.Actor, _ models.AuditEntry) {
		verdict, ok := c.rules.Nuke.RecordBan(ev.Community, actor, c.clock.Now(), c.config().Module(models.ModuleNuke))
		if !ok {
			return
		}
		c.enforce(ctx, ev.Community, verdict, time.Now())
	})
}

// HandleRoleDelete restores the role from the latest backup and, separately,
// judges whoever deleted it.
func (c *Coordinator) HandleRoleDelete(ctx context.Context, ev RoleDeleteEvent) {
	metrics.RecordEvent("role_deleted")
	if c.recovery != nil {
		_, restored := c.recovery.Restore(ctx, ev.Community.ID, ev.Role)
		metrics.RecordRestore(restored)
		if restored {
			c.audit.Log(ctx, audit.LevelInfo, ev.Community.ID, "", "role_restore", fmt.Sprintf("restored role %q from backup", ev.Role.Name))
		}
	}
	role := ev.Role
	c.attribute(ev.Community, models.AuditRoleDelete, role.ID, antinuke.RuleRoleDelete, func(ctx context.Context, actor models.Actor, _ models.AuditEntry) {
		verdict, ok := c.rules.Nuke.RoleDeleted(ev.Community, actor, role.Name, c.config().Module(models.ModuleNuke))
		if !ok {
			return
		}
		c.enforce(ctx, ev.Community, verdict, time.Now())
	})
}

func (c *Coordinator) HandleWebhooksUpdate(_ context.Context, ev WebhooksUpdateEvent) {
	metrics.RecordEvent("webhook_list_changed")
	channelID := ev.ChannelID
	c.attribute(ev.Community, models.AuditWebhookCreate, "", antiwebhook.Rule, func(ctx context.Context, creator models.Actor, _ models.AuditEntry) {
		verdict, ok := c.rules.Webhook.Evaluate(ev.Community, creator, channelID, c.config().Module(models.ModuleWebhook))
		if !ok {
			return
		}
		started := time.Now()
		deleted, err := c.client.DeleteWebhooksBy(ctx, channelID, creator.ID)
		if err != nil {
			c.logger.Warn("webhook cleanup failed", zap.String("channel_id", channelID), zap.Error(err))
		}
		c.logger.Debug("webhooks removed", zap.String("channel_id", channelID), zap.Int("count", deleted))
		c.enforce(ctx, ev.Community, verdict, started)
	})
}

func (c *Coordinator) checkDisplayName(ctx context.Context, community models.Community, member models.Actor, name string) {
	verdict, ok := c.rules.Link.Evaluate(community, member, name, c.config().Module(models.ModuleLink))
	if !ok {
		return
	}
	started := time.Now()
	if err := c.client.SetNickname(ctx, community.ID, member.ID, antilink.ModeratedName(member.ID)); err != nil {
		c.logger.Warn("rename member failed", zap.String("user_id", member.ID), zap.Error(err))
	}
	c.enforce(ctx, community, verdict, started)
}

func (c *Coordinator) deleteMessage(ctx context.Context, msg models.Message) {
	if err := c.client.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		c.logger.Warn("delete message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// enforce applies the verdict's action and records the audit trail. Side
// effects on the triggering content run before this is called.
func (c *Coordinator) enforce(ctx context.Context, community models.Community, verdict models.Verdict, started time.Time) models.Outcome {
	metrics.RecordVerdict(string(verdict.Module), verdict.Rule)
	outcome := c.punisher.Apply(ctx, community.ID, verdict.Actor, verdict.Action, verdict.Reason)
	metrics.RecordPunishment(string(outcome.Action), string(outcome.Kind))

	details := fmt.Sprintf("rule=%s reason=%s action=%s outcome=%s verdict=%s", verdict.Rule, verdict.Reason, verdict.Action, outcome, verdict.ID)
	c.audit.Log(ctx, severityFor(verdict.Module), community.ID, verdict.Actor.ID, string(verdict.Module), details)
	metrics.ObserveHandle(string(verdict.Module), started)
	return outcome
}

func severityFor(module models.ModuleName) models.Severity {
	switch module {
	case models.ModuleNuke, models.ModuleRole, models.ModuleWebhook, models.ModuleBot:
		return audit.LevelCrit
	default:
		return audit.LevelWarn
	}
}
