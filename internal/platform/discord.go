package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdr-security/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	auditLookupLimit = 5
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

var auditActions = map[models.AuditKind]discordgo.AuditLogAction{
	models.AuditBan:              discordgo.AuditLogActionMemberBanAdd,
	models.AuditRoleDelete:       discordgo.AuditLogActionRoleDelete,
	models.AuditBotAdd:           discordgo.AuditLogActionBotAdd,
	models.AuditWebhookCreate:    discordgo.AuditLogActionWebhookCreate,
	models.AuditMemberRoleUpdate: discordgo.AuditLogActionMemberRoleUpdate,
}

var severityColors = map[models.Severity]int{
	models.SeverityInfo: 0x3498db,
	models.SeverityWarn: 0xf1c40f,
	models.SeverityCrit: 0xe74c3c,
}

// Discord implements Client and Locker over a discordgo session.
type Discord struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewDiscord(session *discordgo.Session, logger *zap.Logger) *Discord {
	return &Discord{session: session, logger: logger}
}

func opts(ctx context.Context) []discordgo.RequestOption {
	return []discordgo.RequestOption{discordgo.WithContext(ctx)}
}

func withReason(ctx context.Context, reason string) []discordgo.RequestOption {
	options := opts(ctx)
	if reason != "" {
		options = append(options, discordgo.WithAuditLogReason(reason))
	}
	return options
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID, opts(ctx)...)
}

// PurgeMessages deletes up to limit recent messages by authorID in channelID.
func (d *Discord) PurgeMessages(ctx context.Context, channelID, authorID string, limit int) (int, error) {
	messages, err := d.session.ChannelMessages(channelID, 100, "", "", "", opts(ctx)...)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	var ids []string
	for _, msg := range messages {
		if msg == nil || msg.Author == nil || msg.Author.ID != authorID {
			continue
		}
		if msg.Timestamp.Before(cutoff) {
			continue
		}
		ids = append(ids, msg.ID)
		if len(ids) >= limit {
			break
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := d.session.ChannelMessagesBulkDelete(channelID, ids, opts(ctx)...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, opts(ctx)...)
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, opts(ctx)...)
}

func (d *Discord) Timeout(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	until := time.Now().Add(duration)
	return d.session.GuildMemberTimeout(guildID, userID, &until, withReason(ctx, reason)...)
}

// RecentAuditEntry returns the newest audit entry of kind, restricted to
// targetID when it is set. It returns nil when nothing matches.
func (d *Discord) RecentAuditEntry(ctx context.Context, guildID string, kind models.AuditKind, targetID string) (*models.AuditEntry, error) {
	action, ok := auditActions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: audit kind %q", ErrUnsupported, kind)
	}
	logs, err := d.session.GuildAuditLog(guildID, "", "", int(action), auditLookupLimit, opts(ctx)...)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		return nil, nil
	}
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		created, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err != nil {
			created = time.Time{}
		}
		return &models.AuditEntry{
			ID:        entry.ID,
			Kind:      kind,
			ActorID:   entry.UserID,
			TargetID:  entry.TargetID,
			CreatedAt: created,
		}, nil
	}
	return nil, nil
}

// Member resolves a member from state, falling back to the REST API.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (models.Actor, error) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil && member != nil {
			return ActorFromMember(member), nil
		}
	}
	member, err := d.session.GuildMember(guildID, userID, opts(ctx)...)
	if err != nil {
		return models.Actor{ID: userID}, err
	}
	return ActorFromMember(member), nil
}

func (d *Discord) CreateRole(ctx context.Context, guildID string, role models.Role) (*models.Role, error) {
	params := &discordgo.RoleParams{
		Name:        role.Name,
		Color:       &role.Color,
		Hoist:       &role.Hoist,
		Permissions: &role.Permissions,
		Mentionable: &role.Mentionable,
	}
	created, err := d.session.GuildRoleCreate(guildID, params, opts(ctx)...)
	if err != nil {
		return nil, err
	}
	out := RoleFromDiscord(created)
	return &out, nil
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, opts(ctx)...)
}

func (d *Discord) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	return d.session.GuildMemberNickname(guildID, userID, nickname, opts(ctx)...)
}

// DeleteWebhooksBy removes every webhook in channelID created by creatorID.
func (d *Discord) DeleteWebhooksBy(ctx context.Context, channelID, creatorID string) (int, error) {
	hooks, err := d.session.ChannelWebhooks(channelID, opts(ctx)...)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, hook := range hooks {
		if hook == nil || hook.User == nil || hook.User.ID != creatorID {
			continue
		}
		if err := d.session.WebhookDelete(hook.ID, opts(ctx)...); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (d *Discord) SendNotification(ctx context.Context, channelID string, n models.Notification) error {
	if channelID == "" {
		return nil
	}
	at := n.Time
	if at.IsZero() {
		at = time.Now()
	}
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       severityColors[n.Severity],
		Timestamp:   at.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "PDR Security | " + string(n.Severity)},
	}
	_, err := d.session.ChannelMessageSendEmbed(channelID, embed, opts(ctx)...)
	return err
}

// LockTextChannels denies @everyone send permission in every text channel
// and returns the overwrites that were in place before.
func (d *Discord) LockTextChannels(ctx context.Context, guildID string) ([]models.ChannelLock, error) {
	channels, err := d.session.GuildChannels(guildID, opts(ctx)...)
	if err != nil {
		return nil, err
	}
	var locks []models.ChannelLock
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		lock := models.ChannelLock{ChannelID: channel.ID}
		for _, overwrite := range channel.PermissionOverwrites {
			if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == guildID {
				lock.Allow = overwrite.Allow
				lock.Deny = overwrite.Deny
				lock.Existed = true
				break
			}
		}
		allow := lock.Allow &^ discordgo.PermissionSendMessages
		deny := lock.Deny | discordgo.PermissionSendMessages
		if err := d.session.ChannelPermissionSet(channel.ID, guildID, discordgo.PermissionOverwriteTypeRole, allow, deny, opts(ctx)...); err != nil {
			d.logger.Warn("lock channel failed", zap.String("guild_id", guildID), zap.String("channel_id", channel.ID), zap.Error(err))
			continue
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

func (d *Discord) RestoreChannels(ctx context.Context, guildID string, locks []models.ChannelLock) (int, error) {
	restored := 0
	var errs []error
	for _, lock := range locks {
		var err error
		if lock.Existed {
			err = d.session.ChannelPermissionSet(lock.ChannelID, guildID, discordgo.PermissionOverwriteTypeRole, lock.Allow, lock.Deny, opts(ctx)...)
		} else {
			err = d.session.ChannelPermissionDelete(lock.ChannelID, guildID, opts(ctx)...)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}

// ActorFromMember converts a discordgo member into an Actor.
func ActorFromMember(member *discordgo.Member) models.Actor {
	if member == nil {
		return models.Actor{}
	}
	actor := models.Actor{RoleIDs: append([]string(nil), member.Roles...)}
	if member.User != nil {
		actor.ID = member.User.ID
		actor.Name = member.User.Username
		actor.Automation = member.User.Bot
	}
	if member.Nick != "" {
		actor.Name = member.Nick
	}
	return actor
}

func RoleFromDiscord(role *discordgo.Role) models.Role {
	if role == nil {
		return models.Role{}
	}
	return models.Role{
		ID:          role.ID,
		Name:        role.Name,
		Permissions: role.Permissions,
		Color:       role.Color,
		Hoist:       role.Hoist,
		Mentionable: role.Mentionable,
	}
}

// UpdatePresence shows text as a watching activity.
func (d *Discord) UpdatePresence(_ context.Context, text string) error {
	return d.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{
			{Name: text, Type: discordgo.ActivityTypeWatching},
		},
	})
}

func (d *Discord) Latency() time.Duration {
	return d.session.HeartbeatLatency()
}
