package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore persists grants in the object_permissions table
type SQLStore struct {
	db DBTX
}

var _ PermissionStore = (*SQLStore)(nil)

// NewSQLStore creates a store over a database handle or transaction
func NewSQLStore(db DBTX) *SQLStore {
	return &SQLStore{db: db}
}

// Grant inserts a grant row, ignoring duplicates
func (s *SQLStore) Grant(ctx context.Context, principal Principal, resource Resource, code Codename) error {
	query := `
		INSERT INTO object_permissions (principal_kind, principal_id, resource_type, resource_id, codename)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		string(principal.Kind), principal.ID, string(resource.Type), resource.ID, string(code))
	if err != nil {
		return fmt.Errorf("failed to grant %s to %s on %s: %w", code, principal, resource, err)
	}
	return nil
}

// Revoke deletes a grant row
func (s *SQLStore) Revoke(ctx context.Context, principal Principal, resource Resource, code Codename) error {
	query := `
		DELETE FROM object_permissions
		WHERE principal_kind = $1 AND principal_id = $2 AND resource_type = $3 AND resource_id = $4 AND codename = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		string(principal.Kind), principal.ID, string(resource.Type), resource.ID, string(code))
	if err != nil {
		return fmt.Errorf("failed to revoke %s from %s on %s: %w", code, principal, resource, err)
	}
	return nil
}

// PermissionsOf returns the codes a principal holds on a resource
func (s *SQLStore) PermissionsOf(ctx context.Context, principal Principal, resource Resource) (PermissionSet, error) {
	query := `
		SELECT codename
		FROM object_permissions
		WHERE principal_kind = $1 AND principal_id = $2 AND resource_type = $3 AND resource_id = $4
	`
	rows, err := s.db.QueryContext(ctx, query,
		string(principal.Kind), principal.ID, string(resource.Type), resource.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := NewPermissionSet()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms.Add(Codename(code))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return perms, nil
}

// PrincipalsWithPermissions groups the grant rows of a resource by principal
func (s *SQLStore) PrincipalsWithPermissions(ctx context.Context, resource Resource) ([]PrincipalPermissions, error) {
	query := `
		SELECT principal_kind, principal_id, codename
		FROM object_permissions
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY principal_kind, principal_id, codename
	`
	rows, err := s.db.QueryContext(ctx, query, string(resource.Type), resource.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []PrincipalPermissions
	for rows.Next() {
		var kind, code string
		var id int64
		if err := rows.Scan(&kind, &id, &code); err != nil {
			return nil, fmt.Errorf("failed to scan principal permission: %w", err)
		}
		p := Principal{Kind: PrincipalKind(kind), ID: id}
		if n := len(out); n == 0 || out[n-1].Principal != p {
			out = append(out, PrincipalPermissions{Principal: p, Permissions: NewPermissionSet()})
		}
		out[len(out)-1].Permissions.Add(Codename(code))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate principals: %w", err)
	}

	return out, nil
}

// RunInTx runs fn inside a transaction, committing on success.
// Build stores and repositories over tx inside fn to make a propagation atomic.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
