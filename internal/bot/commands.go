package bot

import (
	"pdr-security/internal/models"

	"github.com/bwmarrin/discordgo"
)

// moduleCommand maps one /anti_* command onto a configurable module.
type moduleCommand struct {
	Name        string
	Module      models.ModuleName
	Title       string
	Description string
	Actions     []models.Action
}

var allActions = []models.Action{models.ActionBan, models.ActionKick, models.ActionTimeout, models.ActionNone}

var moduleCommands = []moduleCommand{
	{Name: "anti_spam", Module: models.ModuleSpam, Title: "Anti-Spam", Description: "Configure message flood protection", Actions: allActions},
	{Name: "anti_nuke", Module: models.ModuleNuke, Title: "Anti-Nuke", Description: "Configure mass ban and role deletion protection", Actions: []models.Action{models.ActionBan, models.ActionKick}},
	{Name: "anti_bot", Module: models.ModuleBot, Title: "Anti-Bot Add", Description: "Configure unauthorized bot protection", Actions: allActions},
	{Name: "anti_role", Module: models.ModuleRole, Title: "Anti-Role", Description: "Configure dangerous role grant protection", Actions: allActions},
	{Name: "anti_invite", Module: models.ModuleInvite, Title: "Anti-Invite", Description: "Configure invite link protection", Actions: allActions},
	{Name: "anti_mention", Module: models.ModuleMention, Title: "Anti-Mention", Description: "Configure mass mention protection", Actions: allActions},
	{Name: "anti_link_name", Module: models.ModuleLink, Title: "Anti-Link Name", Description: "Configure link display name protection", Actions: allActions},
	{Name: "anti_webhook", Module: models.ModuleWebhook, Title: "Anti-Webhook", Description: "Configure webhook creation protection", Actions: allActions},
}

var actionLabels = map[models.Action]string{
	models.ActionBan:     "Ban",
	models.ActionKick:    "Kick",
	models.ActionTimeout: "Timeout",
	models.ActionNone:    "None (Log Only)",
}

func findModuleCommand(name string) (moduleCommand, bool) {
	for _, cmd := range moduleCommands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return moduleCommand{}, false
}

func adminOnly() *int64 {
	perm := int64(discordgo.PermissionAdministrator)
	return &perm
}

func manageServer() *int64 {
	perm := int64(discordgo.PermissionManageServer)
	return &perm
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	dmPermission := false
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Show latency and memory usage",
		},
		{
			Name:        "help",
			Description: "List every command",
		},
		{
			Name:                     "setup",
			Description:              "Enable every protection module",
			DefaultMemberPermissions: adminOnly(),
			DMPermission:             &dmPermission,
		},
		{
			Name:                     "lockdown",
			Description:              "Deny @everyone from sending messages in every text channel",
			DefaultMemberPermissions: adminOnly(),
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Lift automatically after this many minutes (0 keeps it until /unlockdown)",
					Required:    false,
				},
			},
		},
		{
			Name:                     "unlockdown",
			Description:              "Lift the active lockdown",
			DefaultMemberPermissions: adminOnly(),
			DMPermission:             &dmPermission,
		},
		{
			Name:         "whitelist",
			Description:  "Manage exempt users and roles",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "add, remove or list",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Add", Value: "add"},
						{Name: "Remove", Value: "remove"},
						{Name: "List", Value: "list"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "target user",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "target role",
				},
			},
		},
		{
			Name:                     "set_log",
			Description:              "Set the channel that receives security notifications",
			DefaultMemberPermissions: manageServer(),
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "log channel",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "backup",
			Description:              "Save a snapshot of every role",
			DefaultMemberPermissions: adminOnly(),
			DMPermission:             &dmPermission,
		},
		{
			Name:                     "report",
			Description:              "Summarize security events of the last 24 hours",
			DefaultMemberPermissions: manageServer(),
			DMPermission:             &dmPermission,
		},
	}

	for _, mc := range moduleCommands {
		choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(mc.Actions))
		for _, action := range mc.Actions {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: actionLabels[action], Value: string(action)})
		}
		commands = append(commands, &discordgo.ApplicationCommand{
			Name:                     mc.Name,
			Description:              mc.Description,
			DefaultMemberPermissions: manageServer(),
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "status",
					Description: "enable or disable the module",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "punishment applied on detection",
					Required:    true,
					Choices:     choices,
				},
			},
		})
	}
	return commands
}

// registerCommands creates, edits and prunes global commands so the
// registered set matches commandDefinitions.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		_, err = b.session.ApplicationCommandBulkOverwrite(appID, "", commands)
		return err
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
