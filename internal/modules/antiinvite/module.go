package antiinvite

import (
	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
	"pdr-security/internal/utils"
)

const Rule = "invite_link"

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

// Evaluate flags a message that carries a community invite link.
func (m *Module) Evaluate(msg models.Message, community models.Community, setting settings.ModuleSetting) (models.Verdict, bool) {
	if msg.Author.Automation || !modules.Applies(m.gate, setting, msg.Author, community) {
		return models.Verdict{}, false
	}
	invite, ok := utils.FindInvite(msg.Content)
	if !ok {
		return models.Verdict{}, false
	}
	normalized, _, err := utils.NormalizeURL(invite)
	if err != nil {
		normalized = invite
	}
	return modules.NewVerdict(models.ModuleInvite, Rule, msg.Author, "posted invite link "+normalized, setting.Action), true
}
