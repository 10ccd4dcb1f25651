package exempt

import (
	"context"
	"sync"
	"sync/atomic"

	"pdr-security/internal/models"
)

type Source interface {
	ListExemptions(ctx context.Context) ([]models.Exemption, error)
}

type entries struct {
	users map[string]struct{}
	roles map[string]struct{}
}

// Gate answers whether an actor is exempt from every rule. The exemption
// set is swapped atomically so lookups never block on a reload.
type Gate struct {
	ownerID string
	selfID  atomic.Value
	set     atomic.Pointer[entries]
	mu      sync.Mutex
	source  Source
}

func New(ownerID string, source Source) *Gate {
	g := &Gate{ownerID: ownerID, source: source}
	g.selfID.Store("")
	g.set.Store(&entries{users: map[string]struct{}{}, roles: map[string]struct{}{}})
	return g
}

// SetSelf records the bot's own account id once the session is ready.
func (g *Gate) SetSelf(id string) {
	g.selfID.Store(id)
}

func (g *Gate) Self() string {
	return g.selfID.Load().(string)
}

func (g *Gate) Reload(ctx context.Context) error {
	if g.source == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.source.ListExemptions(ctx)
	if err != nil {
		return err
	}
	g.Replace(list)
	return nil
}

// Replace publishes a new exemption set.
func (g *Gate) Replace(list []models.Exemption) {
	next := &entries{
		users: make(map[string]struct{}, len(list)),
		roles: make(map[string]struct{}, len(list)),
	}
	for _, item := range list {
		switch item.Kind {
		case models.ExemptUser:
			next.users[item.ID] = struct{}{}
		case models.ExemptRole:
			next.roles[item.ID] = struct{}{}
		}
	}
	g.set.Store(next)
}

func (g *Gate) IsExempt(actor models.Actor, community models.Community) bool {
	if actor.ID == "" {
		return false
	}
	if g.ownerID != "" && actor.ID == g.ownerID {
		return true
	}
	if community.OwnerID != "" && actor.ID == community.OwnerID {
		return true
	}
	if self := g.Self(); self != "" && actor.ID == self {
		return true
	}
	current := g.set.Load()
	if _, ok := current.users[actor.ID]; ok {
		return true
	}
	for _, roleID := range actor.RoleIDs {
		if _, ok := current.roles[roleID]; ok {
			return true
		}
	}
	return false
}
