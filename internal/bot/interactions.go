package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdr-security/internal/analytics"
	"pdr-security/internal/models"
	"pdr-security/internal/modules/audit"
	"pdr-security/internal/playbook"
	"pdr-security/internal/settings"
	"pdr-security/internal/status"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorSuccess = 0x2ecc71
	colorInfo    = 0x3498db
	colorWarn    = 0xf1c40f
	colorError   = 0xe74c3c

	footerText   = "PDR Security"
	reportWindow = 24 * time.Hour
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	data := interaction.ApplicationCommandData()
	if data.Name != "ping" && data.Name != "help" && interaction.GuildID == "" {
		b.respondEmbed(session, interaction, errorEmbed("This command only works inside a server."), true)
		return
	}

	switch data.Name {
	case "ping":
		b.handlePing(session, interaction)
	case "help":
		b.respondEmbed(session, interaction, helpEmbed(), true)
	case "setup":
		b.handleSetup(ctx, session, interaction)
	case "lockdown":
		b.handleLockdown(ctx, session, interaction, data.Options)
	case "unlockdown":
		b.handleUnlockdown(ctx, session, interaction)
	case "whitelist":
		b.handleWhitelist(ctx, session, interaction, data.Options)
	case "set_log":
		b.handleSetLog(ctx, session, interaction, data.Options)
	case "backup":
		b.handleBackup(ctx, session, interaction)
	case "report":
		b.handleReport(ctx, session, interaction)
	default:
		if mc, ok := findModuleCommand(data.Name); ok {
			b.handleModuleCommand(ctx, session, interaction, mc, data.Options)
		}
	}
}

func (b *Bot) handlePing(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Ping", Value: fmt.Sprintf("`%dms`", b.discord.Latency().Milliseconds()), Inline: true},
	}
	if ram, err := status.MemoryMB(); err == nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "RAM Usage", Value: fmt.Sprintf("`%.2fMB`", ram), Inline: true})
	}
	b.respondEmbed(session, interaction, commandEmbed("Pong!", "", colorSuccess, fields), true)
}

func helpEmbed() *discordgo.MessageEmbed {
	names := make([]string, 0, len(moduleCommands))
	for _, mc := range moduleCommands {
		names = append(names, "`/"+mc.Name+"`")
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "General", Value: "`/setup` enable every module\n`/ping` latency and memory\n`/set_log` notification channel\n`/report` last 24 hours", Inline: false},
		{Name: "Protection", Value: strings.Join(names, " "), Inline: false},
		{Name: "Emergency", Value: "`/lockdown` lock every text channel\n`/unlockdown` lift the lockdown\n`/backup` snapshot roles\n`/whitelist` manage exemptions", Inline: false},
	}
	return commandEmbed("PDR Security Commands", "Every command and what it does.", colorInfo, fields)
}

func (b *Bot) handleSetup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_, err := b.settings.Update(ctx, func(cfg *settings.Configuration) {
		for name, module := range cfg.Modules {
			module.Enabled = true
			cfg.Modules[name] = module
		}
	})
	if err != nil {
		b.logger.Error("enable all modules failed", zap.Error(err))
		b.respondEmbed(session, interaction, errorEmbed("Could not save the configuration."), true)
		return
	}
	b.logAction(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "config", "all modules enabled")

	titles := make([]string, 0, len(moduleCommands))
	for _, mc := range moduleCommands {
		titles = append(titles, "`"+mc.Title+"`")
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Modules", Value: strings.Join(titles, ", "), Inline: false}}
	b.respondEmbed(session, interaction, commandEmbed("PDR Security Online", "**Status: ACTIVE**\nAll protection modules have been enabled.", colorSuccess, fields), false)
}

func (b *Bot) handleModuleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, mc moduleCommand, options []*discordgo.ApplicationCommandInteractionDataOption) {
	var enabled bool
	var action models.Action
	for _, opt := range options {
		switch opt.Name {
		case "status":
			enabled = opt.BoolValue()
		case "action":
			parsed, ok := models.ParseAction(opt.StringValue())
			if !ok {
				b.respondEmbed(session, interaction, errorEmbed("Unknown action."), true)
				return
			}
			action = parsed
		}
	}
	if action == "" {
		b.respondEmbed(session, interaction, errorEmbed("An action is required."), true)
		return
	}

	_, err := b.settings.Update(ctx, func(cfg *settings.Configuration) {
		cfg.Modules[mc.Module] = settings.ModuleSetting{Enabled: enabled, Action: action}
	})
	if err != nil {
		b.logger.Error("module update failed", zap.String("module", string(mc.Module)), zap.Error(err))
		b.respondEmbed(session, interaction, errorEmbed("Could not save the configuration."), true)
		return
	}
	b.logAction(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "config", fmt.Sprintf("%s enabled=%t action=%s", mc.Module, enabled, action))

	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: state, Inline: true},
		{Name: "Action", Value: "**" + actionLabels[action] + "**", Inline: true},
	}
	b.respondEmbed(session, interaction, commandEmbed(mc.Title+" Updated", "", colorInfo, fields), true)
}

func (b *Bot) handleLockdown(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	duration := time.Duration(b.cfg.Lockdown.DefaultMinutes) * time.Minute
	for _, opt := range options {
		if opt.Name == "minutes" {
			duration = time.Duration(opt.IntValue()) * time.Minute
		}
	}
	if duration < 0 {
		b.respondEmbed(session, interaction, errorEmbed("Duration cannot be negative."), true)
		return
	}
	if !b.deferResponse(session, interaction) {
		return
	}

	channels, err := b.playbook.Lockdown(ctx, interaction.GuildID, invokerID(interaction), duration)
	switch {
	case errors.Is(err, playbook.ErrActive):
		b.editEmbed(session, interaction, commandEmbed("Lockdown", "A lockdown is already active.", colorWarn, nil))
		return
	case err != nil:
		b.logger.Error("lockdown failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.editEmbed(session, interaction, errorEmbed("Lockdown failed."))
		return
	}

	fields := []*discordgo.MessageEmbedField{{Name: "Channels", Value: fmt.Sprintf("%d", channels), Inline: true}}
	if duration > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Lifts in", Value: duration.String(), Inline: true})
	}
	b.editEmbed(session, interaction, commandEmbed("Lockdown Activated", "Server has been locked down.", colorWarn, fields))
}

func (b *Bot) handleUnlockdown(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.deferResponse(session, interaction) {
		return
	}
	channels, err := b.playbook.Unlock(ctx, interaction.GuildID, invokerID(interaction))
	switch {
	case errors.Is(err, playbook.ErrNotActive):
		b.editEmbed(session, interaction, commandEmbed("Lockdown", "No lockdown is active.", colorInfo, nil))
		return
	case err != nil:
		b.logger.Warn("unlock incomplete", zap.String("guild_id", interaction.GuildID), zap.Int("restored", channels), zap.Error(err))
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Channels", Value: fmt.Sprintf("%d", channels), Inline: true}}
	b.editEmbed(session, interaction, commandEmbed("Lockdown Lifted", "Server is back to normal.", colorSuccess, fields))
}

func (b *Bot) handleWhitelist(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.isOwner(ctx, interaction) {
		b.respondEmbed(session, interaction, errorEmbed("Owner only."), true)
		return
	}

	var action string
	var target models.Exemption
	for _, opt := range options {
		switch opt.Name {
		case "action":
			action = opt.StringValue()
		case "user":
			if user := opt.UserValue(session); user != nil {
				target = models.Exemption{ID: user.ID, Kind: models.ExemptUser}
			}
		case "role":
			if role := opt.RoleValue(session, interaction.GuildID); role != nil && target.ID == "" {
				target = models.Exemption{ID: role.ID, Kind: models.ExemptRole}
			}
		}
	}

	if action == "list" {
		list, err := b.store.ListExemptions(ctx)
		if err != nil {
			b.logger.Error("list exemptions failed", zap.Error(err))
			b.respondEmbed(session, interaction, errorEmbed("Could not read the whitelist."), true)
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Whitelist", formatExemptions(list), colorInfo, nil), true)
		return
	}
	if target.ID == "" {
		b.respondEmbed(session, interaction, errorEmbed("Pick a user or a role."), true)
		return
	}

	var changed bool
	var err error
	switch action {
	case "add":
		changed, err = b.store.AddExemption(ctx, target)
	case "remove":
		changed, err = b.store.RemoveExemption(ctx, target.ID)
	default:
		b.respondEmbed(session, interaction, errorEmbed("Unknown action."), true)
		return
	}
	if err != nil {
		b.logger.Error("whitelist update failed", zap.String("action", action), zap.Error(err))
		b.respondEmbed(session, interaction, errorEmbed("Could not update the whitelist."), true)
		return
	}
	if err := b.gate.Reload(ctx); err != nil {
		b.logger.Warn("exemption reload failed", zap.Error(err))
	}
	b.logAction(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "whitelist", fmt.Sprintf("%s %s %s changed=%t", action, target.Kind, target.ID, changed))

	title, color := "Success", colorSuccess
	if !changed {
		title, color = "No Change", colorWarn
	}
	b.respondEmbed(session, interaction, commandEmbed(title, fmt.Sprintf("Action: %s %s", action, mentionFor(target)), color, nil), true)
}

func (b *Bot) handleSetLog(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	var channelID string
	for _, opt := range options {
		if opt.Name == "channel" {
			if channel := opt.ChannelValue(session); channel != nil {
				channelID = channel.ID
			}
		}
	}
	if channelID == "" {
		b.respondEmbed(session, interaction, errorEmbed("Pick a text channel."), true)
		return
	}
	_, err := b.settings.Update(ctx, func(cfg *settings.Configuration) {
		cfg.LogChannelID = channelID
	})
	if err != nil {
		b.logger.Error("set log channel failed", zap.Error(err))
		b.respondEmbed(session, interaction, errorEmbed("Could not save the configuration."), true)
		return
	}
	b.logAction(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "config", "log channel set to "+channelID)
	b.respondEmbed(session, interaction, commandEmbed("Log Channel Set", "Channel: <#"+channelID+">", colorSuccess, nil), true)
}

func (b *Bot) handleBackup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.deferResponse(session, interaction) {
		return
	}
	roles, err := b.fetchRoles(ctx, interaction.GuildID)
	if err == nil {
		_, err = b.recovery.Snapshot(ctx, interaction.GuildID, roles)
	}
	if err != nil {
		b.logger.Error("manual backup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.editEmbed(session, interaction, errorEmbed("Backup failed."))
		return
	}
	b.logAction(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "backup", fmt.Sprintf("manual backup of %d roles", len(roles)))
	fields := []*discordgo.MessageEmbedField{{Name: "Roles", Value: fmt.Sprintf("%d", len(roles)), Inline: true}}
	b.editEmbed(session, interaction, commandEmbed("Backup Complete", "", colorSuccess, fields))
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-reportWindow))
	if err != nil {
		b.logger.Error("report failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, errorEmbed("Could not build the report."), true)
		return
	}
	b.respondEmbed(session, interaction, reportEmbed(report), true)
}

func reportEmbed(report analytics.Report) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Total", Value: fmt.Sprintf("%d", report.Total), Inline: true},
		{Name: "INFO", Value: fmt.Sprintf("%d", report.ByLevel[string(audit.LevelInfo)]), Inline: true},
		{Name: "WARN", Value: fmt.Sprintf("%d", report.ByLevel[string(audit.LevelWarn)]), Inline: true},
		{Name: "CRIT", Value: fmt.Sprintf("%d", report.ByLevel[string(audit.LevelCrit)]), Inline: true},
	}
	if top := report.TopEvents(5); len(top) > 0 {
		lines := make([]string, 0, len(top))
		for _, event := range top {
			lines = append(lines, fmt.Sprintf("`%s` %d", event, report.ByEvent[event]))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Top events", Value: strings.Join(lines, "\n"), Inline: false})
	}
	return commandEmbed("Security Report", "Last 24 hours", colorInfo, fields)
}

// isOwner accepts the configured owner, or the guild owner when none is set.
func (b *Bot) isOwner(ctx context.Context, interaction *discordgo.InteractionCreate) bool {
	userID := invokerID(interaction)
	if userID == "" {
		return false
	}
	if b.cfg.OwnerID != "" {
		return userID == b.cfg.OwnerID
	}
	return userID == b.community(ctx, interaction.GuildID).OwnerID
}

func invokerID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func formatExemptions(list []models.Exemption) string {
	if len(list) == 0 {
		return "The whitelist is empty."
	}
	lines := make([]string, 0, len(list))
	for _, e := range list {
		lines = append(lines, fmt.Sprintf("%s (%s)", mentionFor(e), e.Kind))
	}
	return strings.Join(lines, "\n")
}

func mentionFor(e models.Exemption) string {
	if e.Kind == models.ExemptRole {
		return "<@&" + e.ID + ">"
	}
	return "<@" + e.ID + ">"
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func errorEmbed(message string) *discordgo.MessageEmbed {
	return commandEmbed("Failed", message, colorError, nil)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

// deferResponse acknowledges a slow command; the result follows via editEmbed.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.Warn("interaction defer failed", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) editEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.Error(err))
	}
}
