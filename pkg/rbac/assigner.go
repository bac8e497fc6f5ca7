package rbac

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/fieldperm/pkg/rbac"

// Recorder receives measurements for permission mutations
type Recorder interface {
	RecordRoleAssignment(role RoleName, rt ResourceType, err error)
	RecordPermissionRemoval(rt ResourceType, err error)
}

// Invalidator drops cached permission state after a mutation
type Invalidator interface {
	Invalidate(ctx context.Context, principal Principal, resource Resource) error
}

// Assigner applies roles to principals on resources through a PermissionStore.
//
// Add reads, clears and rewrites a principal's grants in separate store calls.
// Concurrent Adds for the same pair race unless the store is bound to a
// transaction with suitable isolation.
type Assigner struct {
	registry     *Registry
	store        PermissionStore
	logger       *logrus.Logger
	recorder     Recorder
	invalidators []Invalidator
	tracer       trace.Tracer
}

// Option configures an Assigner
type Option func(*Assigner)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Assigner) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(recorder Recorder) Option {
	return func(a *Assigner) {
		a.recorder = recorder
	}
}

// WithInvalidators registers caches to purge after every mutation
func WithInvalidators(invalidators ...Invalidator) Option {
	return func(a *Assigner) {
		a.invalidators = append(a.invalidators, invalidators...)
	}
}

// NewAssigner creates a new assigner
func NewAssigner(registry *Registry, store PermissionStore, opts ...Option) *Assigner {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	a := &Assigner{
		registry: registry,
		store:    store,
		logger:   discard,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the role registry used by the assigner
func (a *Assigner) Registry() *Registry {
	return a.registry
}

// Store returns the underlying permission store
func (a *Assigner) Store() PermissionStore {
	return a.store
}

// Add makes principal hold exactly the named role's bundle on resource.
// Every existing grant is revoked first. A resource type the role does not
// declare ends up with no grants rather than an error.
func (a *Assigner) Add(ctx context.Context, name RoleName, principal Principal, resource Resource) (err error) {
	role, err := a.registry.Lookup(string(name))
	if err != nil {
		return err
	}

	ctx, span := a.tracer.Start(ctx, "rbac.Assigner.Add", trace.WithAttributes(
		attribute.String("role", string(role.Name)),
		attribute.String("principal", principal.String()),
		attribute.String("resource", resource.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if a.recorder != nil {
			a.recorder.RecordRoleAssignment(role.Name, resource.Type, err)
		}
	}()

	if err := a.revokeAll(ctx, principal, resource); err != nil {
		return err
	}

	bundle := role.Bundle(resource.Type)
	for _, code := range bundle.Sorted() {
		if err := a.store.Grant(ctx, principal, resource, code); err != nil {
			return fmt.Errorf("failed to assign %s: %w", role.Name, err)
		}
	}

	a.invalidate(ctx, principal, resource)

	a.logger.WithFields(logrus.Fields{
		"role":        role.Name,
		"principal":   principal.String(),
		"resource":    resource.String(),
		"permissions": bundle.Len(),
	}).Debug("assigned role")

	return nil
}

// HasRole is the pure subset check of a role against a permission set
func (a *Assigner) HasRole(name RoleName, perms PermissionSet, rt ResourceType) (bool, error) {
	role, err := a.registry.Lookup(string(name))
	if err != nil {
		return false, err
	}
	return role.HasRole(perms, rt), nil
}

// UserHasRole reports whether principal's live grants on resource contain the role's bundle.
// Holding a superset, such as an owner's grants, also satisfies lower roles.
func (a *Assigner) UserHasRole(ctx context.Context, name RoleName, principal Principal, resource Resource) (bool, error) {
	role, err := a.registry.Lookup(string(name))
	if err != nil {
		return false, err
	}

	perms, err := a.store.PermissionsOf(ctx, principal, resource)
	if err != nil {
		return false, fmt.Errorf("failed to read permissions: %w", err)
	}

	return role.HasRole(perms, resource.Type), nil
}

// RoleOf infers the role principal currently holds on resource
func (a *Assigner) RoleOf(ctx context.Context, principal Principal, resource Resource) (RoleName, error) {
	perms, err := a.store.PermissionsOf(ctx, principal, resource)
	if err != nil {
		return "", fmt.Errorf("failed to read permissions: %w", err)
	}
	return a.registry.InferRole(perms, resource.Type), nil
}

// RemoveAllPermissions revokes every grant principal holds on resource
func (a *Assigner) RemoveAllPermissions(ctx context.Context, principal Principal, resource Resource) (err error) {
	ctx, span := a.tracer.Start(ctx, "rbac.Assigner.RemoveAllPermissions", trace.WithAttributes(
		attribute.String("principal", principal.String()),
		attribute.String("resource", resource.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if a.recorder != nil {
			a.recorder.RecordPermissionRemoval(resource.Type, err)
		}
	}()

	if err := a.revokeAll(ctx, principal, resource); err != nil {
		return err
	}
	a.invalidate(ctx, principal, resource)
	return nil
}

// RemoveRolePermissions revokes only the codes of the named role's bundle
func (a *Assigner) RemoveRolePermissions(ctx context.Context, name RoleName, principal Principal, resource Resource) error {
	role, err := a.registry.Lookup(string(name))
	if err != nil {
		return err
	}

	for _, code := range role.Bundle(resource.Type).Sorted() {
		if err := a.store.Revoke(ctx, principal, resource, code); err != nil {
			return fmt.Errorf("failed to remove %s permissions: %w", role.Name, err)
		}
	}
	if a.recorder != nil {
		a.recorder.RecordPermissionRemoval(resource.Type, nil)
	}
	a.invalidate(ctx, principal, resource)
	return nil
}

func (a *Assigner) revokeAll(ctx context.Context, principal Principal, resource Resource) error {
	current, err := a.store.PermissionsOf(ctx, principal, resource)
	if err != nil {
		return fmt.Errorf("failed to read permissions: %w", err)
	}
	for _, code := range current.Sorted() {
		if err := a.store.Revoke(ctx, principal, resource, code); err != nil {
			return fmt.Errorf("failed to clear permissions: %w", err)
		}
	}
	return nil
}

func (a *Assigner) invalidate(ctx context.Context, principal Principal, resource Resource) {
	for _, inv := range a.invalidators {
		if err := inv.Invalidate(ctx, principal, resource); err != nil {
			a.logger.WithError(err).WithField("resource", resource.String()).Warn("failed to invalidate permission cache")
		}
	}
}
