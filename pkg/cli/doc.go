// Package cli implements permctl, the administration tool for the role and
// object permission engine.
//
// # Commands
//
// Inspect the role lattice without a database:
//
//	permctl roles -resource project
//	permctl infer -resource project -perms view_project,view_project_all
//
// Change organization membership and project access. Every mutating command
// prints its plan first; -dry-run stops there.
//
//	permctl org-role -org 1 -user 5 -role editor
//	permctl remove-member -org 1 -user 5
//	permctl share-project -project 3 -user 5 -role readonly
//	permctl share-project -project 3 -team 2 -remove
//
// Check effective access, including grants held through teams:
//
//	permctl check -user 5 -perm view_project -resource project:3
//
// Find grant sets that are not exactly one role's bundle, export the audit
// trail, and run the schema migrations:
//
//	permctl scan -org 1 -json
//	permctl audit -since 24h -format csv
//	permctl migrate
//
// serve runs the drift scan on the configured cron schedule and exposes
// /health, /health/live, /health/ready and /metrics.
//
// Configuration comes from package config.
package cli
