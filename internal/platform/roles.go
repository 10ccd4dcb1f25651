package platform

import (
	"sync"

	"pdr-security/internal/models"
)

// RoleCache remembers role details so deletions can still be described
// after the gateway state has dropped the role.
type RoleCache struct {
	mu    sync.RWMutex
	roles map[string]map[string]models.Role
}

func NewRoleCache() *RoleCache {
	return &RoleCache{roles: make(map[string]map[string]models.Role)}
}

func (c *RoleCache) Put(guildID string, role models.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	guild := c.roles[guildID]
	if guild == nil {
		guild = make(map[string]models.Role)
		c.roles[guildID] = guild
	}
	guild[role.ID] = role
}

func (c *RoleCache) Replace(guildID string, roles []models.Role) {
	guild := make(map[string]models.Role, len(roles))
	for _, role := range roles {
		guild[role.ID] = role
	}
	c.mu.Lock()
	c.roles[guildID] = guild
	c.mu.Unlock()
}

func (c *RoleCache) Get(guildID, roleID string) (models.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	role, ok := c.roles[guildID][roleID]
	return role, ok
}

// Take returns and forgets a role.
func (c *RoleCache) Take(guildID, roleID string) (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	role, ok := c.roles[guildID][roleID]
	if ok {
		delete(c.roles[guildID], roleID)
	}
	return role, ok
}

// Lookup resolves role ids against the cache, skipping unknown ids.
func (c *RoleCache) Lookup(guildID string, ids []string) []models.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Role, 0, len(ids))
	for _, id := range ids {
		if role, ok := c.roles[guildID][id]; ok {
			out = append(out, role)
		}
	}
	return out
}

func (c *RoleCache) Forget(guildID string) {
	c.mu.Lock()
	delete(c.roles, guildID)
	c.mu.Unlock()
}
