// Package rbac implements the object permission engine: an ordered lattice of
// roles, each a fixed bundle of permission codes per resource type, applied to
// users and teams on individual forms, projects and organizations.
//
// # Roles
//
// Built-in roles in ascending privilege order:
//
//	readonly-no-download  - view forms and projects, no export
//	readonly              - view and export
//	dataentry-only        - submit data only
//	dataentry-minor       - submit and view own data
//	dataentry             - submit and view all data
//	editor-minor          - edit own data and form settings
//	editor                - edit all data and form settings
//	manager               - add forms, projects and entity lists
//	owner                 - everything, including delete and transfer
//
// member is a zero-permission marker for organization membership and is not
// part of the ordering.
//
// # Registry
//
// A Registry is built once and passed to whatever needs role lookups:
//
//	registry := rbac.NewDefaultRegistry()
//	role, err := registry.Lookup("manager")
//	bundle, _ := registry.BundleFor(rbac.RoleEditor, rbac.ResourceXForm)
//
// # Assigning roles
//
// Assigner.Add clears every grant the principal holds on the resource and then
// grants exactly the role's bundle, so a principal holds at most one role per
// resource:
//
//	assigner := rbac.NewAssigner(registry, rbac.NewSQLStore(db))
//	err := assigner.Add(ctx, rbac.RoleEditor, rbac.User(42), rbac.Resource{Type: rbac.ResourceXForm, ID: 7})
//
// Adding a role on a resource type it does not declare leaves the principal
// with no grants there and is not an error.
//
// # Inference
//
// Registry.InferRole scans roles from most to least privileged and returns the
// first whose non-empty bundle is contained in the observed set, or member.
// Sets that are not exactly one bundle are reported by Scanner and never
// rewritten.
//
// # Checking access
//
// PermissionChecker merges a user's direct grants with those of every team
// the user belongs to, optionally caching the result in an expirable LRU.
package rbac
