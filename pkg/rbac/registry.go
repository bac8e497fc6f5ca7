package rbac

import "fmt"

// Registry is the immutable, ordered set of roles known to the engine.
// Build it once at startup and pass it to whatever needs role lookups.
type Registry struct {
	ordered []Role
	byName  map[RoleName]int
	member  Role
}

// NewRegistry builds a registry from roles given in ascending privilege order
func NewRegistry(roles ...Role) (*Registry, error) {
	r := &Registry{
		ordered: make([]Role, 0, len(roles)),
		byName:  make(map[RoleName]int, len(roles)),
		member:  MemberRole(),
	}

	for _, role := range roles {
		if role.Name == "" {
			return nil, fmt.Errorf("role name is required")
		}
		if role.Name == RoleMember {
			return nil, fmt.Errorf("%w: %s is reserved for the membership marker", ErrDuplicateRole, role.Name)
		}
		if _, exists := r.byName[role.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, role.Name)
		}
		r.byName[role.Name] = len(r.ordered)
		r.ordered = append(r.ordered, role)
	}

	return r, nil
}

// NewDefaultRegistry returns a registry holding the built-in roles
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltInRoles()...)
	if err != nil {
		panic(fmt.Sprintf("built-in roles are invalid: %v", err))
	}
	return r
}

// Lookup resolves a role by its exact name, including the member marker
func (r *Registry) Lookup(name string) (Role, error) {
	key := RoleName(name)
	if key == RoleMember {
		return r.member, nil
	}
	idx, ok := r.byName[key]
	if !ok {
		return Role{}, &UnknownRoleError{Name: name}
	}
	return r.ordered[idx], nil
}

// LookupAssignable resolves a role a caller may grant. The member marker is
// not assignable and is reported as unknown.
func (r *Registry) LookupAssignable(name string) (Role, error) {
	if RoleName(name) == RoleMember {
		return Role{}, &UnknownRoleError{Name: name}
	}
	return r.Lookup(name)
}

// MustLookup is Lookup for names known at compile time
func (r *Registry) MustLookup(name RoleName) Role {
	role, err := r.Lookup(string(name))
	if err != nil {
		panic(err)
	}
	return role
}

// BundleFor returns the codes the named role grants on rt
func (r *Registry) BundleFor(name RoleName, rt ResourceType) (PermissionSet, error) {
	role, err := r.Lookup(string(name))
	if err != nil {
		return nil, err
	}
	return role.Bundle(rt), nil
}

// Ordered returns the roles in ascending privilege order, without member
func (r *Registry) Ordered() []Role {
	out := make([]Role, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Member returns the membership marker role
func (r *Registry) Member() Role {
	return r.member
}

// Rank returns the position of a role in the privilege order.
// Member ranks below every ordered role.
func (r *Registry) Rank(name RoleName) (int, error) {
	if name == RoleMember {
		return -1, nil
	}
	idx, ok := r.byName[name]
	if !ok {
		return 0, &UnknownRoleError{Name: string(name)}
	}
	return idx, nil
}

// Compare returns -1, 0 or 1 as a is less, equally or more privileged than b
func (r *Registry) Compare(a, b RoleName) (int, error) {
	ra, err := r.Rank(a)
	if err != nil {
		return 0, err
	}
	rb, err := r.Rank(b)
	if err != nil {
		return 0, err
	}
	switch {
	case ra < rb:
		return -1, nil
	case ra > rb:
		return 1, nil
	default:
		return 0, nil
	}
}
