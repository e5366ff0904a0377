package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/store"
)

func TestOpen_AppliesMigrations_TablesExist(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='jobs'`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next(), "jobs table should exist after migrations")
}

func TestOpen_Idempotent_SecondOpenSucceeds(t *testing.T) {
	ctx := context.Background()
	s1, err := store.Open(ctx, "file:test_idempotent.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s1.Close()

	s2, err := store.Open(ctx, "file:test_idempotent.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s2.Close()
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `INSERT INTO specs (uuid, cpu, memory, disk, network) VALUES ('11111111-1111-1111-1111-111111111111', 1, 1, 1, 0)`)
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB.QueryRowContext(ctx, `SELECT count(*) FROM specs`).Scan(&count))
	require.Equal(t, 0, count)
}
