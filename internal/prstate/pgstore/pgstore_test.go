package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gatekeeper/internal/prstate"
	"github.com/simplesurance/gatekeeper/internal/prstate/storetest"
)

const dsnEnvVar = "GATEKEEPER_TEST_POSTGRES_DSN"

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnvVar)
	if dsn == "" {
		t.Skipf("%s is not set", dsnEnvVar)
	}

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()

	store, err := Open(ctx, &Config{DSN: dsn, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	storetest.Run(t, func(t *testing.T) prstate.Store {
		_, err := store.pool.Exec(ctx, "TRUNCATE pull_request_snapshots")
		require.NoError(t, err)

		return store
	})
}
