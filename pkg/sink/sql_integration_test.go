//go:build integration

package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "names",
				"POSTGRES_PASSWORD": "names",
				"POSTGRES_DB":       "names",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://names:names@%s:%s/names?sslmode=disable", host, port.Port())
}

func TestIntegration_PostgresSink(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	s, err := OpenPostgres(ctx, dsn, Truncate)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, testRecords(model.Male, 1, 3)))
	require.NoError(t, s.Append(ctx, testRecords(model.Female, 1, 2)))
	require.NoError(t, s.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	var total int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM names").Scan(&total))
	assert.Equal(t, 5, total)
}
