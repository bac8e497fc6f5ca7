package rbac

import (
	"context"
	"sort"
	"sync"
)

// PermissionStore is the object-level ACL the engine reads and writes
type PermissionStore interface {
	// Grant records that principal holds code on resource
	Grant(ctx context.Context, principal Principal, resource Resource, code Codename) error

	// Revoke removes code from principal on resource
	Revoke(ctx context.Context, principal Principal, resource Resource, code Codename) error

	// PermissionsOf returns the codes principal holds directly on resource
	PermissionsOf(ctx context.Context, principal Principal, resource Resource) (PermissionSet, error)

	// PrincipalsWithPermissions lists every principal holding at least one code on resource
	PrincipalsWithPermissions(ctx context.Context, resource Resource) ([]PrincipalPermissions, error)
}

type grantKey struct {
	principal Principal
	resource  Resource
}

// MemoryStore is an in-process PermissionStore
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[grantKey]PermissionSet
}

var _ PermissionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[grantKey]PermissionSet)}
}

// Grant records a permission
func (s *MemoryStore) Grant(ctx context.Context, principal Principal, resource Resource, code Codename) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{principal: principal, resource: resource}
	set, ok := s.grants[key]
	if !ok {
		set = NewPermissionSet()
		s.grants[key] = set
	}
	set.Add(code)
	return nil
}

// Revoke removes a permission
func (s *MemoryStore) Revoke(ctx context.Context, principal Principal, resource Resource, code Codename) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{principal: principal, resource: resource}
	set, ok := s.grants[key]
	if !ok {
		return nil
	}
	delete(set, code)
	if set.Len() == 0 {
		delete(s.grants, key)
	}
	return nil
}

// PermissionsOf returns a copy of the principal's codes on resource
func (s *MemoryStore) PermissionsOf(ctx context.Context, principal Principal, resource Resource) (PermissionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grants[grantKey{principal: principal, resource: resource}].Union(nil), nil
}

// PrincipalsWithPermissions lists holders of resource ordered by kind then ID
func (s *MemoryStore) PrincipalsWithPermissions(ctx context.Context, resource Resource) ([]PrincipalPermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PrincipalPermissions
	for key, set := range s.grants {
		if key.resource != resource {
			continue
		}
		out = append(out, PrincipalPermissions{Principal: key.principal, Permissions: set.Union(nil)})
	}
	sortPrincipalPermissions(out)
	return out, nil
}

// Snapshot returns a deep copy of every grant, keyed by "principal@resource"
func (s *MemoryStore) Snapshot() map[string][]Codename {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Codename, len(s.grants))
	for key, set := range s.grants {
		out[key.principal.String()+"@"+key.resource.String()] = set.Sorted()
	}
	return out
}

func sortPrincipalPermissions(pp []PrincipalPermissions) {
	sort.Slice(pp, func(i, j int) bool {
		if pp[i].Principal.Kind != pp[j].Principal.Kind {
			return pp[i].Principal.Kind < pp[j].Principal.Kind
		}
		return pp[i].Principal.ID < pp[j].Principal.ID
	})
}
