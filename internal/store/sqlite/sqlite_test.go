package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/store/storetest"
)

func createTestBackend(t *testing.T, path string) *Backend {
	t.Helper()
	b, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackendConformance(t *testing.T) {
	paths := map[store.Backend]string{}
	storetest.Run(t, storetest.Factory{
		New: func(t *testing.T) store.Backend {
			path := filepath.Join(t.TempDir(), "ledger.db")
			b := createTestBackend(t, path)
			paths[b] = path
			return b
		},
		Reopen: func(t *testing.T, closed store.Backend) store.Backend {
			return createTestBackend(t, paths[closed])
		},
	})
}

func TestPragmas(t *testing.T) {
	b := createTestBackend(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	var mode string
	require.NoError(t, b.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, b.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestUserVersionTracksSchema(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, filepath.Join(t.TempDir(), "ledger.db"))

	version, err := b.UserVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	_, err = store.Open(ctx, b, storetest.SchemaV1)
	require.NoError(t, err)
	version, err = b.UserVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, err = store.Open(ctx, b, storetest.SchemaV2)
	require.NoError(t, err)
	version, err = b.UserVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	var registered int
	require.NoError(t, b.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_indexes`).Scan(&registered))
	assert.Equal(t, 6, registered)
}
