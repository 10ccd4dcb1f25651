package models

import "strings"

// Action is the punishment configured for a module.
type Action string

const (
	ActionBan     Action = "ban"
	ActionKick    Action = "kick"
	ActionTimeout Action = "timeout"
	ActionNone    Action = "none"
)

func ParseAction(value string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionBan:
		return ActionBan, true
	case ActionKick:
		return ActionKick, true
	case ActionTimeout:
		return ActionTimeout, true
	case ActionNone:
		return ActionNone, true
	default:
		return "", false
	}
}

func (a Action) Valid() bool {
	_, ok := ParseAction(string(a))
	return ok
}

// ModuleName keys a module in the guild configuration document.
type ModuleName string

const (
	ModuleSpam    ModuleName = "anti_spam"
	ModuleNuke    ModuleName = "anti_nuke"
	ModuleBot     ModuleName = "anti_bot"
	ModuleRole    ModuleName = "anti_role"
	ModuleInvite  ModuleName = "anti_invite"
	ModuleMention ModuleName = "anti_mention"
	ModuleLink    ModuleName = "anti_link"
	ModuleWebhook ModuleName = "anti_webhook"
)

// Modules lists every configurable module in display order.
var Modules = []ModuleName{
	ModuleSpam,
	ModuleNuke,
	ModuleBot,
	ModuleRole,
	ModuleInvite,
	ModuleMention,
	ModuleLink,
	ModuleWebhook,
}
