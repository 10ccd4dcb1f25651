// Package modules holds what every detection rule shares.
package modules

import (
	"pdr-security/internal/models"
	"pdr-security/internal/settings"

	"github.com/google/uuid"
)

type Gate interface {
	IsExempt(actor models.Actor, community models.Community) bool
}

// Applies reports whether a rule configured by setting may judge actor.
func Applies(gate Gate, setting settings.ModuleSetting, actor models.Actor, community models.Community) bool {
	if !setting.Enabled {
		return false
	}
	if gate != nil && gate.IsExempt(actor, community) {
		return false
	}
	return true
}

func NewVerdict(module models.ModuleName, rule string, actor models.Actor, reason string, action models.Action) models.Verdict {
	return models.Verdict{
		ID:     uuid.NewString(),
		Module: module,
		Rule:   rule,
		Actor:  actor,
		Reason: reason,
		Action: action,
	}
}
