package db

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestMigrateURLRewritesScheme(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestParseIsolation(t *testing.T) {
	require.Equal(t, pgx.ReadCommitted, ParseIsolation("read-committed"))
	require.Equal(t, pgx.Serializable, ParseIsolation(" Serializable "))
	require.Equal(t, pgx.RepeatableRead, ParseIsolation(""))
}
