package identity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertProject(t *testing.T, s *store.Store) int64 {
	t.Helper()
	res, err := s.DB.Exec(`INSERT INTO projects (uuid, organization_id, name, slug, visibility, created, modified) VALUES ('22222222-2222-2222-2222-222222222222', 1, 'p1', 'p1', 'public', datetime('now'), datetime('now'))`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestResolve_NotFound_NotCreatable_ReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	projectID := insertProject(t, s)
	r := identity.New(s.DB)

	_, err := r.Resolve(context.Background(), projectID, identity.KindBranch, "main", false)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.NotFound))
}

func TestResolve_Creatable_CreatesRow(t *testing.T) {
	s := newTestStore(t)
	projectID := insertProject(t, s)
	r := identity.New(s.DB)

	id, err := r.Resolve(context.Background(), projectID, identity.KindBranch, "main", true)
	require.NoError(t, err)
	require.NotZero(t, id)

	id2, err := r.Resolve(context.Background(), projectID, identity.KindBranch, "main", true)
	require.NoError(t, err)
	require.Equal(t, id, id2)
}

func TestResolve_ConcurrentCreate_OnlyOneRowCreated(t *testing.T) {
	s := newTestStore(t)
	projectID := insertProject(t, s)
	r := identity.New(s.DB)

	const n = 20
	ids := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), projectID, identity.KindBenchmark, "bench::a", true)
			require.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM benchmarks WHERE project_id = ?`, projectID).Scan(&count))
	require.Equal(t, 1, count)
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestResolve_ByUUID_FindsExistingRow(t *testing.T) {
	s := newTestStore(t)
	projectID := insertProject(t, s)
	r := identity.New(s.DB)

	id, err := r.Resolve(context.Background(), projectID, identity.KindTestbed, "ci", true)
	require.NoError(t, err)

	var u string
	require.NoError(t, s.DB.QueryRow(`SELECT uuid FROM testbeds WHERE id = ?`, id).Scan(&u))

	r2 := identity.New(s.DB)
	idByUUID, err := r2.Resolve(context.Background(), projectID, identity.KindTestbed, u, false)
	require.NoError(t, err)
	require.Equal(t, id, idByUUID)
}
