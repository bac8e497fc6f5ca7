package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRole is returned when a role name is not registered
	ErrUnknownRole = errors.New("unknown role")

	// ErrDuplicateRole is returned when a registry is built with a repeated role name
	ErrDuplicateRole = errors.New("duplicate role")

	// ErrPrincipalNotFound is returned when a user or team cannot be resolved
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrResourceNotFound is returned when an organization, project or form cannot be resolved
	ErrResourceNotFound = errors.New("resource not found")
)

// UnknownRoleError carries the role name that failed lookup
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role: %q", e.Name)
}

func (e *UnknownRoleError) Unwrap() error {
	return ErrUnknownRole
}

// IsUnknownRole checks if an error is an unknown role error
func IsUnknownRole(err error) bool {
	return errors.Is(err, ErrUnknownRole)
}

// IsNotFound checks if an error reports a missing principal or resource
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrResourceNotFound)
}
