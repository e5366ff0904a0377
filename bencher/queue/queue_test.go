package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/model"
	"go.bencher.dev/core/bencher/queue"
	"go.bencher.dev/core/bencher/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertSpec(t *testing.T, s *store.Store) int64 {
	t.Helper()
	res, err := s.DB.Exec(`INSERT INTO specs (uuid, cpu, memory, disk, network) VALUES (?, 1, 1024, 10, 0)`, randUUID())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func insertRunner(t *testing.T, s *store.Store, archived, locked bool, specIDs ...int64) int64 {
	t.Helper()
	res, err := s.DB.Exec(`INSERT INTO runners (uuid, name, slug, token_hash, created, archived, locked) VALUES (?, ?, ?, 'hash', datetime('now'), ?, ?)`,
		randUUID(), "runner", randUUID(), archived, locked)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	for _, specID := range specIDs {
		_, err := s.DB.Exec(`INSERT INTO runner_specs (runner_id, spec_id) VALUES (?, ?)`, id, specID)
		require.NoError(t, err)
	}
	return id
}

var uuidCounter int

func randUUID() string {
	uuidCounter++
	return time.Now().Format("150405.000000") + "-" + itoa(uuidCounter)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func insertJob(t *testing.T, s *store.Store, orgID int64, sourceIP string, priority int, specID int64, createdAt time.Time) int64 {
	t.Helper()
	ctx := now.WithTime(context.Background(), createdAt)
	job, err := queue.Enqueue(ctx, s, nil, orgID, sourceIP, specID, `{}`, 60, priority)
	require.NoError(t, err)
	return job.ID
}

func TestClaim_NoEligibleJob_ReturnsNilQuickly(t *testing.T) {
	s := newTestStore(t)
	specID := insertSpec(t, s)
	runnerID := insertRunner(t, s, false, false, specID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := queue.Claim(ctx, s, runnerID, 1500*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestClaim_PriorityThenFIFO_EnterpriseEarliestFirst(t *testing.T) {
	s := newTestStore(t)
	specID := insertSpec(t, s)
	runnerID := insertRunner(t, s, false, false, specID)

	base := time.Now()
	freeID := insertJob(t, s, 1, "1.1.1.1", 150, specID, base.Add(1*time.Second))
	entA := insertJob(t, s, 2, "2.2.2.2", 300, specID, base.Add(3*time.Second))
	_ = insertJob(t, s, 3, "3.3.3.3", 300, specID, base.Add(5*time.Second))

	job, err := queue.Claim(context.Background(), s, runnerID, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, entA, job.ID)
	require.NotEqual(t, freeID, job.ID)
}

func TestClaim_TwoRunnersSameJob_ExactlyOneSucceeds(t *testing.T) {
	s := newTestStore(t)
	specID := insertSpec(t, s)
	runnerA := insertRunner(t, s, false, false, specID)
	runnerB := insertRunner(t, s, false, false, specID)
	insertJob(t, s, 1, "1.1.1.1", 300, specID, time.Now())

	var wg sync.WaitGroup
	results := make([]*model.Job, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = queue.Claim(context.Background(), s, runnerA, 2*time.Second)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = queue.Claim(context.Background(), s, runnerB, 2*time.Second)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	successes := 0
	for _, r := range results {
		if r != nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}

func TestClaim_TierCap_FreeBlockedEnterpriseNot(t *testing.T) {
	s := newTestStore(t)
	specID := insertSpec(t, s)
	runnerID := insertRunner(t, s, false, false, specID)

	base := time.Now()
	// Org 1 already has a Claimed job (simulated directly).
	claimedJobID := insertJob(t, s, 1, "1.1.1.1", 150, specID, base)
	_, err := s.DB.Exec(`UPDATE jobs SET status = 'Claimed' WHERE id = ?`, claimedJobID)
	require.NoError(t, err)

	// A second Free job for the same org is blocked.
	secondFreeID := insertJob(t, s, 1, "1.1.1.1", 150, specID, base.Add(time.Second))
	// An Enterprise job for the same org remains claimable.
	entID := insertJob(t, s, 1, "1.1.1.1", 300, specID, base.Add(2*time.Second))

	job, err := queue.Claim(context.Background(), s, runnerID, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, entID, job.ID)
	require.NotEqual(t, secondFreeID, job.ID)
}

func TestClaim_SpecMismatch_NotEligible(t *testing.T) {
	s := newTestStore(t)
	jobSpecID := insertSpec(t, s)
	otherSpecID := insertSpec(t, s)
	runnerID := insertRunner(t, s, false, false, otherSpecID)

	insertJob(t, s, 1, "1.1.1.1", 300, jobSpecID, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := queue.Claim(ctx, s, runnerID, 1500*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestClaim_ArchivedRunner_Forbidden(t *testing.T) {
	s := newTestStore(t)
	specID := insertSpec(t, s)
	runnerID := insertRunner(t, s, true, false, specID)
	insertJob(t, s, 1, "1.1.1.1", 300, specID, time.Now())

	_, err := queue.Claim(context.Background(), s, runnerID, time.Second)
	require.Error(t, err)
}
