package antilink

import (
	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
	"pdr-security/internal/utils"
)

const Rule = "display_name_link"

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

// Evaluate flags a member whose display name carries a link.
func (m *Module) Evaluate(community models.Community, member models.Actor, displayName string, setting settings.ModuleSetting) (models.Verdict, bool) {
	if displayName == "" || !utils.ContainsLink(displayName) {
		return models.Verdict{}, false
	}
	if !modules.Applies(m.gate, setting, member, community) {
		return models.Verdict{}, false
	}
	return modules.NewVerdict(models.ModuleLink, Rule, member, "link in display name "+displayName, setting.Action), true
}

// ModeratedName is the replacement name given to a flagged member.
func ModeratedName(userID string) string {
	suffix := userID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Moderated-" + suffix
}
