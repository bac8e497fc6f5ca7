package rbac

// MatchRole names the most privileged role whose non-empty bundle for rt is
// contained in perms. It reports false when no ordered role matches.
func (r *Registry) MatchRole(perms PermissionSet, rt ResourceType) (RoleName, bool) {
	for i := len(r.ordered) - 1; i >= 0; i-- {
		role := r.ordered[i]
		bundle, ok := role.bundles[rt]
		if !ok || bundle.Len() == 0 {
			continue
		}
		if perms.ContainsAll(bundle) {
			return role.Name, true
		}
	}
	return "", false
}

// InferRole names the role a permission set corresponds to, falling back to member
func (r *Registry) InferRole(perms PermissionSet, rt ResourceType) RoleName {
	if name, ok := r.MatchRole(perms, rt); ok {
		return name
	}
	return RoleMember
}

// IsExact reports whether perms is exactly the bundle of the role it infers to.
// Sets built outside Assigner.Add, such as the union of two bundles, are not exact.
func (r *Registry) IsExact(perms PermissionSet, rt ResourceType) bool {
	name, ok := r.MatchRole(perms, rt)
	if !ok {
		return perms.Len() == 0
	}
	return perms.Equal(r.ordered[r.byName[name]].bundles[rt])
}

// RoleInOrganization resolves an organization-level role: holders of
// is_org_owner are owners, otherwise the inferred role, otherwise member.
func (r *Registry) RoleInOrganization(perms PermissionSet) RoleName {
	if perms.Has(PermIsOrgOwner) {
		return RoleOwner
	}
	return r.InferRole(perms, ResourceOrganization)
}
