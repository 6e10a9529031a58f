package permission

import (
	"errors"
	"sync"
)

// RootPage is the page name that sets the registry's root bit for a role.
const RootPage = "*"

// RoleManager holds the page mask of every campus role. Roles are registered
// at startup and the manager is frozen before serving.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// RegisterRole builds the role's mask from page names. [RootPage] grants
// every page when the registry reserves a root bit.
func (rm *RoleManager) RegisterRole(roleName string, pages []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	mask := newMask(rm.registry.Width())
	for _, page := range pages {
		if page == RootPage {
			bit, ok := rm.registry.RootBit()
			if !ok {
				return errors.New("root page requires a reserved root bit")
			}
			mask.Set(bit)
			continue
		}
		bit, ok := rm.registry.Bit(page)
		if !ok {
			return errors.New("page not registered: " + page)
		}
		mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

// Mask returns a copy of the role's mask.
func (rm *RoleManager) Mask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	if !ok {
		return nil, false
	}
	out := newMask(mask.Width())
	union(out, mask)
	return out, true
}

func (rm *RoleManager) Registry() *Registry {
	return rm.registry
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
