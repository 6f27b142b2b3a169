package authcheck

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/authcheck/pkg/observability"
	"github.com/platinummonkey/authcheck/pkg/sso"
	"github.com/platinummonkey/authcheck/pkg/tasks"
)

// fakeClaimer keeps last_verified per identity in memory
type fakeClaimer struct {
	mu           sync.Mutex
	lastVerified map[int64]time.Time
	listErr      error
	claimErr     error
	claimCalls   int
}

func (f *fakeClaimer) ListStaleIdentityIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var ids []int64
	for id, verified := range f.lastVerified {
		if !verified.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeClaimer) ClaimIdentities(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimErr != nil {
		return 0, f.claimErr
	}

	var n int64
	for _, id := range ids {
		if _, ok := f.lastVerified[id]; ok {
			f.lastVerified[id] = now
			n++
		}
	}
	return n, nil
}

// claimCheckingQueue asserts that an identity is claimed before its task is
// enqueued
type claimCheckingQueue struct {
	*recordingQueue
	t     *testing.T
	store *fakeClaimer
	now   time.Time
}

func (q *claimCheckingQueue) Enqueue(ctx context.Context, name string, payload any, expiresIn time.Duration) (*tasks.Task, error) {
	id := payload.(CheckAuthIdentityPayload).AuthIdentityID
	q.store.mu.Lock()
	assert.True(q.t, q.store.lastVerified[id].Equal(q.now), "identity %d enqueued before it was claimed", id)
	q.store.mu.Unlock()
	return q.recordingQueue.Enqueue(ctx, name, payload, expiresIn)
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return fixedNow }

	t.Run("claims and enqueues every stale identity", func(t *testing.T) {
		store := &fakeClaimer{lastVerified: map[int64]time.Time{
			1: fixedNow.Add(-25 * time.Hour),
			2: fixedNow.Add(-time.Hour),
			3: fixedNow.Add(-59 * time.Minute),
			4: fixedNow.Add(-2 * time.Hour),
		}}
		queue := &claimCheckingQueue{recordingQueue: newRecordingQueue(now), t: t, store: store, now: fixedNow}
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))

		result, err := sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Equal(t, fixedNow.Add(-time.Hour), result.Cutoff)
		assert.Equal(t, []int64{1, 2, 4}, result.Claimed)
		assert.Equal(t, 3, result.Enqueued)
		assert.Equal(t, []int64{1, 2, 4}, queue.identityIDs(t))

		for _, task := range queue.Tasks() {
			assert.Equal(t, TaskCheckAuthIdentity, task.Name)
			assert.Equal(t, time.Hour, task.ExpiresAt.Sub(task.EnqueuedAt))
		}

		assert.Equal(t, fixedNow.Add(-59*time.Minute), store.lastVerified[3], "fresh identity untouched")
	})

	t.Run("nothing stale", func(t *testing.T) {
		store := &fakeClaimer{lastVerified: map[int64]time.Time{
			1: fixedNow.Add(-time.Minute),
		}}
		queue := newRecordingQueue(now)
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))

		result, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, result.Claimed)
		assert.Zero(t, result.Enqueued)
		assert.Zero(t, store.claimCalls, "no writes when nothing is stale")
		assert.Empty(t, queue.Tasks())
	})

	t.Run("second sweep finds nothing", func(t *testing.T) {
		store := &fakeClaimer{lastVerified: map[int64]time.Time{
			1: fixedNow.Add(-3 * time.Hour),
		}}
		queue := newRecordingQueue(now)
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))

		_, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		_, err = sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Len(t, queue.Tasks(), 1)
	})

	t.Run("list failure", func(t *testing.T) {
		store := &fakeClaimer{listErr: errors.New("connection refused")}
		queue := newRecordingQueue(now)
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))

		_, err := sweeper.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to select stale identities")
		assert.Zero(t, store.claimCalls)
		assert.Empty(t, queue.Tasks())
	})

	t.Run("claim failure enqueues nothing", func(t *testing.T) {
		store := &fakeClaimer{
			lastVerified: map[int64]time.Time{1: fixedNow.Add(-2 * time.Hour)},
			claimErr:     errors.New("deadlock detected"),
		}
		queue := newRecordingQueue(now)
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))

		_, err := sweeper.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to claim 1 identities")
		assert.Empty(t, queue.Tasks())
	})

	t.Run("enqueue failure keeps going", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)

		store := &fakeClaimer{lastVerified: map[int64]time.Time{
			1: fixedNow.Add(-2 * time.Hour),
			2: fixedNow.Add(-2 * time.Hour),
			3: fixedNow.Add(-2 * time.Hour),
		}}
		queue := newRecordingQueue(now)
		queue.failOn[2] = errors.New("queue full")
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now), WithMetrics(metrics))

		result, err := sweeper.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identity 2")
		assert.Equal(t, 2, result.Enqueued)
		assert.Equal(t, []int64{1, 3}, queue.identityIDs(t))
		assert.Equal(t, fixedNow, store.lastVerified[2], "claim is not undone")

		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.TasksEnqueuedTotal.WithLabelValues(TaskCheckAuthIdentity, "ok")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksEnqueuedTotal.WithLabelValues(TaskCheckAuthIdentity, "error")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("partial")))
		assert.Equal(t, float64(3), testutil.ToFloat64(metrics.IdentitiesClaimedTotal))
	})

	t.Run("last success tracks clean sweeps only", func(t *testing.T) {
		store := &fakeClaimer{lastVerified: map[int64]time.Time{1: fixedNow.Add(-2 * time.Hour)}}
		queue := newRecordingQueue(now)
		sweeper := NewSweeper(store, queue, time.Hour, WithClock(now))
		assert.True(t, sweeper.LastSuccess().IsZero())

		queue.failOn[1] = errors.New("queue full")
		_, err := sweeper.Sweep(ctx)
		require.Error(t, err)
		assert.True(t, sweeper.LastSuccess().IsZero())

		// Nothing is stale any more, which still counts as a clean run
		_, err = sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, fixedNow, sweeper.LastSuccess())
	})

	t.Run("default interval", func(t *testing.T) {
		sweeper := NewSweeper(&fakeClaimer{}, newRecordingQueue(now), 0)
		assert.Equal(t, DefaultInterval, sweeper.Interval())
	})
}

func TestSweeper_SweepStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	storage := sso.NewStorage(db)
	queue := newRecordingQueue(func() time.Time { return fixedNow })
	sweeper := NewSweeper(storage, queue, time.Hour, WithClock(func() time.Time { return fixedNow }))

	mock.ExpectQuery(`SELECT id FROM auth_identities\s+WHERE last_verified <= \$1`).
		WithArgs(fixedNow.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(9))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE auth_identities SET last_verified = \$1 WHERE id IN \(\$2, \$3\)`).
		WithArgs(fixedNow, int64(4), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, result.Claimed)
	assert.Equal(t, []int64{4, 9}, queue.identityIDs(t))
	require.NoError(t, mock.ExpectationsWereMet())
}
