// Package cache purges Redis-held permission views after grants change.
//
// RedisInvalidator implements rbac.Invalidator. Register it with the assigner
// so every role assignment and removal deletes the serialized project, form
// and organization views that embed permission lists:
//
//	inv, err := cache.NewRedisInvalidator(cache.Options{URL: "redis://localhost:6379/0"})
//	assigner := rbac.NewAssigner(registry, store, rbac.WithInvalidators(inv))
package cache
