package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/store/postgres"
	"github.com/warp/reconcile-engine/store/storetest"
)

var _ engine.Store = (*postgres.Store)(nil)

// TestPostgresStore needs a disposable database:
//
//	TEST_DATABASE_URL=postgres://localhost:5432/reconcile_test?sslmode=disable go test ./store/postgres
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	st, err := postgres.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	storetest.Run(t, func(t *testing.T) engine.Store {
		require.NoError(t, st.Reset(ctx))
		return st
	})
}
