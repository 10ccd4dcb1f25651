package antirole

import (
	"strings"

	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"

	"github.com/bwmarrin/discordgo"
)

const Rule = "privilege_grant"

// DangerousPermissions are the bits that make a granted role a privilege escalation.
const DangerousPermissions int64 = discordgo.PermissionAdministrator | discordgo.PermissionManageServer | discordgo.PermissionBanMembers

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

func Dangerous(roles []models.Role) []models.Role {
	var out []models.Role
	for _, role := range roles {
		if role.Permissions&DangerousPermissions != 0 {
			out = append(out, role)
		}
	}
	return out
}

// Evaluate judges granter for the roles added to a member. It returns the
// dangerous subset alongside the verdict so the caller can strip them.
func (m *Module) Evaluate(community models.Community, granter models.Actor, added []models.Role, setting settings.ModuleSetting) (models.Verdict, []models.Role, bool) {
	dangerous := Dangerous(added)
	if len(dangerous) == 0 {
		return models.Verdict{}, nil, false
	}
	if !modules.Applies(m.gate, setting, granter, community) {
		return models.Verdict{}, nil, false
	}
	names := make([]string, 0, len(dangerous))
	for _, role := range dangerous {
		names = append(names, role.Name)
	}
	reason := "granted dangerous role " + strings.Join(names, ", ")
	return modules.NewVerdict(models.ModuleRole, Rule, granter, reason, setting.Action), dangerous, true
}
