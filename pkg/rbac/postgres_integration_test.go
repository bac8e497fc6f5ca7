//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("fieldperm_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	require.NoError(t, RunMigrations(ctx, db, logger))
	require.NoError(t, RunMigrations(ctx, db, logger), "migrations are re-runnable")

	return db
}

func TestPostgres_AssignAndInfer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db := setupPostgres(t)
	ctx := context.Background()

	registry := NewDefaultRegistry()
	store := NewSQLStore(db)
	assigner := NewAssigner(registry, store)
	form := Resource{Type: ResourceXForm, ID: 1}

	for _, role := range registry.Ordered() {
		require.NoError(t, assigner.Add(ctx, role.Name, User(1), form))
		got, err := assigner.RoleOf(ctx, User(1), form)
		require.NoError(t, err)
		assert.Equal(t, role.Name, got)
	}

	holders, err := store.PrincipalsWithPermissions(ctx, form)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.True(t, holders[0].Permissions.Equal(registry.MustLookup(RoleOwner).Bundle(ResourceXForm)))
}
