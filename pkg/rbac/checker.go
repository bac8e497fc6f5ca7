package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Memberships resolves the teams a user belongs to
type Memberships interface {
	TeamsOf(ctx context.Context, userID int64) ([]int64, error)
}

// CacheRecorder receives cache hit and miss counts
type CacheRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// PermissionChecker answers has-permission questions for users, merging
// direct grants with grants held by any team the user belongs to
type PermissionChecker struct {
	store       PermissionStore
	memberships Memberships
	cache       *lru.LRU[string, PermissionSet]
	recorder    CacheRecorder
}

var _ Invalidator = (*PermissionChecker)(nil)

// NewPermissionChecker creates a checker. A zero cacheTTL disables caching.
func NewPermissionChecker(store PermissionStore, memberships Memberships, cacheTTL time.Duration, cacheSize int) *PermissionChecker {
	pc := &PermissionChecker{
		store:       store,
		memberships: memberships,
	}
	if cacheTTL > 0 {
		if cacheSize < 1 {
			cacheSize = 1024
		}
		pc.cache = lru.NewLRU[string, PermissionSet](cacheSize, nil, cacheTTL)
	}
	return pc
}

// SetRecorder sets the cache metrics recorder
func (pc *PermissionChecker) SetRecorder(recorder CacheRecorder) {
	pc.recorder = recorder
}

// EffectivePermissions returns the union of the user's direct and team grants on resource
func (pc *PermissionChecker) EffectivePermissions(ctx context.Context, userID int64, resource Resource) (PermissionSet, error) {
	key := cacheKey(userID, resource)
	if pc.cache != nil {
		if perms, ok := pc.cache.Get(key); ok {
			pc.recordHit()
			return perms.Union(nil), nil
		}
		pc.recordMiss()
	}

	perms, err := pc.store.PermissionsOf(ctx, User(userID), resource)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}

	teamIDs, err := pc.memberships.TeamsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user teams: %w", err)
	}
	for _, teamID := range teamIDs {
		teamPerms, err := pc.store.PermissionsOf(ctx, Team(teamID), resource)
		if err != nil {
			return nil, fmt.Errorf("failed to get team permissions: %w", err)
		}
		perms = perms.Union(teamPerms)
	}

	if pc.cache != nil {
		pc.cache.Add(key, perms.Union(nil))
	}
	return perms, nil
}

// HasPerm reports whether the user holds code on resource directly or through a team
func (pc *PermissionChecker) HasPerm(ctx context.Context, userID int64, code Codename, resource Resource) (bool, error) {
	perms, err := pc.EffectivePermissions(ctx, userID, resource)
	if err != nil {
		return false, err
	}
	return perms.Has(code), nil
}

// Invalidate drops cached results affected by a grant change.
// Team grants reach every member, so a team change purges the whole cache.
func (pc *PermissionChecker) Invalidate(ctx context.Context, principal Principal, resource Resource) error {
	if pc.cache == nil {
		return nil
	}
	if principal.Kind == PrincipalTeam {
		pc.cache.Purge()
		return nil
	}
	pc.cache.Remove(cacheKey(principal.ID, resource))
	return nil
}

// InvalidateUser drops every cached result for a user, e.g. after a team membership change
func (pc *PermissionChecker) InvalidateUser(userID int64) {
	if pc.cache == nil {
		return
	}
	prefix := fmt.Sprintf("%d|", userID)
	for _, key := range pc.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			pc.cache.Remove(key)
		}
	}
}

func (pc *PermissionChecker) recordHit() {
	if pc.recorder != nil {
		pc.recorder.RecordCacheHit("permission_checker")
	}
}

func (pc *PermissionChecker) recordMiss() {
	if pc.recorder != nil {
		pc.recorder.RecordCacheMiss("permission_checker")
	}
}

func cacheKey(userID int64, resource Resource) string {
	return fmt.Sprintf("%d|%s", userID, resource)
}
