package repository

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("FT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FT_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.db.Exec("TRUNCATE results, orders").Error)
	store.now = func() time.Time { return noon }

	runStoreContract(t, store, noon)
	runStatsContract(t, store, noon)
}

func TestPostgresConfigDSN(t *testing.T) {
	dsn := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "ft"}.DSN()
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname=ft")
}
