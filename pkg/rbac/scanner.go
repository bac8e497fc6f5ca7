package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Drift describes a grant set that is not exactly one role's bundle
type Drift struct {
	Principal    Principal  `json:"principal"`
	Resource     Resource   `json:"resource"`
	Permissions  []Codename `json:"permissions"`
	InferredRole RoleName   `json:"inferred_role"`
	Extra        []Codename `json:"extra"`
}

// Scanner finds grant sets written outside Assigner.Add. It only reports.
type Scanner struct {
	registry    *Registry
	store       PermissionStore
	concurrency int
}

// NewScanner creates a scanner that inspects up to concurrency resources at once
func NewScanner(registry *Registry, store PermissionStore, concurrency int) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{registry: registry, store: store, concurrency: concurrency}
}

// Scan inspects every principal's grants on each resource
func (s *Scanner) Scan(ctx context.Context, resources []Resource) ([]Drift, error) {
	var (
		mu     sync.Mutex
		drifts []Drift
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, resource := range resources {
		resource := resource
		g.Go(func() error {
			holders, err := s.store.PrincipalsWithPermissions(ctx, resource)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", resource, err)
			}
			for _, h := range holders {
				if s.registry.IsExact(h.Permissions, resource.Type) {
					continue
				}
				inferred := s.registry.InferRole(h.Permissions, resource.Type)
				d := Drift{
					Principal:    h.Principal,
					Resource:     resource,
					Permissions:  h.Permissions.Sorted(),
					InferredRole: inferred,
				}
				if role, err := s.registry.Lookup(string(inferred)); err == nil {
					d.Extra = h.Permissions.Difference(role.Bundle(resource.Type)).Sorted()
				}
				mu.Lock()
				drifts = append(drifts, d)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Resource != drifts[j].Resource {
			return drifts[i].Resource.String() < drifts[j].Resource.String()
		}
		return drifts[i].Principal.String() < drifts[j].Principal.String()
	})
	return drifts, nil
}
