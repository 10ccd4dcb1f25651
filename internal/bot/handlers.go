package bot

import (
	"context"

	"pdr-security/internal/engine"
	"pdr-security/internal/models"
	"pdr-security/internal/platform"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(_ *discordgo.Session, event *discordgo.Ready) {
	if event.User != nil {
		b.gate.SetSelf(event.User.ID)
		b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
	}
	guildIDs := make([]string, 0, len(event.Guilds))
	for _, guild := range event.Guilds {
		if guild != nil {
			guildIDs = append(guildIDs, guild.ID)
		}
	}
	go b.backupGuilds(guildIDs)
}

// backupGuilds snapshots the roles of every guild the session started in.
func (b *Bot) backupGuilds(guildIDs []string) {
	ctx, cancel := context.WithTimeout(b.ctx, 2*handlerTimeout)
	defer cancel()

	guilds := make(map[string][]models.Role, len(guildIDs))
	for _, guildID := range guildIDs {
		roles, err := b.fetchRoles(ctx, guildID)
		if err != nil {
			b.logger.Warn("fetch roles for backup failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		guilds[guildID] = roles
	}
	saved, err := b.recovery.SnapshotAll(ctx, guilds)
	if err != nil {
		b.logger.Warn("startup backup incomplete", zap.Int("saved", saved), zap.Error(err))
	}
	b.logger.Info("startup backup finished", zap.Int("guilds", saved))
}

func (b *Bot) fetchRoles(ctx context.Context, guildID string) ([]models.Role, error) {
	raw, err := b.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	roles := convertRoles(raw)
	b.roles.Replace(guildID, roles)
	return roles, nil
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	b.roles.Replace(event.ID, convertRoles(event.Roles))
	b.requestMembers(s, event.ID)
}

type memberRequester interface {
	RequestGuildMembers(guildID, query string, limit int, nonce string, presences bool) error
}

// requestMembers asks the gateway for the full member list so later member
// updates carry their previous state.
func (b *Bot) requestMembers(r memberRequester, guildID string) {
	if err := r.RequestGuildMembers(guildID, "", 0, "", false); err != nil {
		b.logger.Warn("request guild members failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	b.roles.Forget(event.ID)
}

func (b *Bot) onRoleCreate(_ *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildRole == nil || event.Role == nil {
		return
	}
	b.roles.Put(event.GuildID, platform.RoleFromDiscord(event.Role))
}

func (b *Bot) onRoleUpdate(_ *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildRole == nil || event.Role == nil {
		return
	}
	b.roles.Put(event.GuildID, platform.RoleFromDiscord(event.Role))
}

func (b *Bot) onRoleDelete(_ *discordgo.Session, event *discordgo.GuildRoleDelete) {
	role, ok := b.roles.Take(event.GuildID, event.RoleID)
	if !ok {
		role = models.Role{ID: event.RoleID}
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleRoleDelete(ctx, engine.RoleDeleteEvent{Community: b.community(ctx, event.GuildID), Role: role})
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, event *discordgo.MessageCreate) {
	if event.Message == nil || event.GuildID == "" || event.Author == nil {
		return
	}
	if event.Author.Bot || event.WebhookID != "" {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleMessage(ctx, engine.MessageEvent{
		Community: b.community(ctx, event.GuildID),
		Message:   messageFromDiscord(event.Message),
	})
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleMemberJoin(ctx, engine.MemberJoinEvent{
		Community: b.community(ctx, event.GuildID),
		Member:    platform.ActorFromMember(event.Member),
	})
}

func (b *Bot) onGuildMemberUpdate(_ *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleMemberUpdate(ctx, b.memberUpdate(b.community(ctx, event.GuildID), event.BeforeUpdate, event.Member))
}

func (b *Bot) memberUpdate(community models.Community, before, after *discordgo.Member) engine.MemberUpdateEvent {
	member := platform.ActorFromMember(after)
	ev := engine.MemberUpdateEvent{Community: community, Member: member, NewName: member.Name}
	if before == nil {
		// Uncached member: every held role is a candidate, the audit log
		// entry decides whether a grant actually happened.
		ev.AddedRoles = b.roles.Lookup(community.ID, after.Roles)
		return ev
	}
	ev.OldName = platform.ActorFromMember(before).Name
	ev.AddedRoles = b.roles.Lookup(community.ID, addedRoleIDs(before.Roles, after.Roles))
	return ev
}

func (b *Bot) onGuildBanAdd(_ *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.User == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleBan(ctx, engine.MemberBanEvent{Community: b.community(ctx, event.GuildID), TargetID: event.User.ID})
}

func (b *Bot) onWebhooksUpdate(_ *discordgo.Session, event *discordgo.WebhooksUpdate) {
	ctx, cancel := b.eventContext()
	defer cancel()
	b.engine.HandleWebhooksUpdate(ctx, engine.WebhooksUpdateEvent{Community: b.community(ctx, event.GuildID), ChannelID: event.ChannelID})
}

// community resolves the guild owner from state, falling back to REST.
func (b *Bot) community(ctx context.Context, guildID string) models.Community {
	community := models.Community{ID: guildID}
	if b.session.State != nil {
		if guild, err := b.session.State.Guild(guildID); err == nil && guild.OwnerID != "" {
			community.OwnerID = guild.OwnerID
			return community
		}
	}
	guild, err := b.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Debug("guild lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return community
	}
	community.OwnerID = guild.OwnerID
	return community
}

func (b *Bot) logAction(ctx context.Context, level models.Severity, guildID, userID, event, details string) {
	if b.audit == nil {
		return
	}
	b.audit.Log(ctx, level, guildID, userID, event, details)
}

func messageFromDiscord(msg *discordgo.Message) models.Message {
	author := models.Actor{}
	if msg.Author != nil {
		author.ID = msg.Author.ID
		author.Name = msg.Author.Username
		author.Automation = msg.Author.Bot
	}
	if msg.Member != nil {
		author.RoleIDs = append([]string(nil), msg.Member.Roles...)
		if msg.Member.Nick != "" {
			author.Name = msg.Member.Nick
		}
	}
	return models.Message{
		ID:              msg.ID,
		ChannelID:       msg.ChannelID,
		GuildID:         msg.GuildID,
		Author:          author,
		Content:         msg.Content,
		MentionEveryone: msg.MentionEveryone,
		Time:            msg.Timestamp,
	}
}

func convertRoles(raw []*discordgo.Role) []models.Role {
	roles := make([]models.Role, 0, len(raw))
	for _, role := range raw {
		if role == nil {
			continue
		}
		roles = append(roles, platform.RoleFromDiscord(role))
	}
	return roles
}

// addedRoleIDs returns the ids present in after but not in before.
func addedRoleIDs(before, after []string) []string {
	had := make(map[string]struct{}, len(before))
	for _, id := range before {
		had[id] = struct{}{}
	}
	var added []string
	for _, id := range after {
		if _, ok := had[id]; !ok {
			added = append(added, id)
		}
	}
	return added
}
