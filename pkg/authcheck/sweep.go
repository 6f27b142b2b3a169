package authcheck

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/authcheck/pkg/observability"
	"github.com/platinummonkey/authcheck/pkg/tasks"
)

// IdentityClaimer finds and claims identities due for verification.
// *sso.Storage implements it.
type IdentityClaimer interface {
	ListStaleIdentityIDs(ctx context.Context, cutoff time.Time) ([]int64, error)
	ClaimIdentities(ctx context.Context, ids []int64, now time.Time) (int64, error)
}

// SweepResult describes one sweep
type SweepResult struct {
	// Cutoff is the staleness threshold; identities last verified at or
	// before it were selected.
	Cutoff time.Time
	// Claimed holds the ids whose last_verified was advanced to the sweep time
	Claimed []int64
	// Enqueued counts the check_auth_identity tasks accepted by the queue
	Enqueued int
}

// Sweeper selects identities whose last verification is older than the
// interval, claims them and enqueues one check_auth_identity task for each.
type Sweeper struct {
	store    IdentityClaimer
	queue    tasks.Queue
	interval time.Duration

	clock   func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics

	// unix nanoseconds of the last sweep that enqueued everything it claimed
	lastSuccess atomic.Int64
}

// NewSweeper creates a sweeper. A non-positive interval means DefaultInterval.
func NewSweeper(store IdentityClaimer, queue tasks.Queue, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	o := newOptions(opts)
	return &Sweeper{
		store:    store,
		queue:    queue,
		interval: interval,
		clock:    o.clock,
		logger:   o.logger.WithField("component", "sweeper"),
		metrics:  o.metrics,
	}
}

// Interval returns the verification interval
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// LastSuccess returns the clock time of the last sweep that finished
// without error, or the zero time if none has.
func (s *Sweeper) LastSuccess() time.Time {
	n := s.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Sweep runs one sweep. The claim is committed before any task is enqueued,
// so a concurrent sweep in another process started after the claim does not
// select the same identities. Enqueue failures do not undo the claim; the
// affected identities are picked up again once the cutoff passes them.
func (s *Sweeper) Sweep(ctx context.Context) (result *SweepResult, err error) {
	started := time.Now()
	now := s.clock().UTC()
	cutoff := now.Add(-s.interval)

	ctx, span := observability.StartSpan(ctx, "authcheck.sweep",
		attribute.String("authcheck.cutoff", cutoff.Format(time.RFC3339)))
	defer func() { observability.EndSpan(span, err) }()

	logger := observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithField("cutoff", cutoff)

	ids, err := s.store.ListStaleIdentityIDs(ctx, cutoff)
	if err != nil {
		s.metrics.RecordSweep("error", 0, time.Since(started))
		return nil, fmt.Errorf("failed to select stale identities: %w", err)
	}

	result = &SweepResult{Cutoff: cutoff}
	if len(ids) == 0 {
		logger.Debug("No identities due for verification")
		s.metrics.RecordSweep("empty", 0, time.Since(started))
		s.lastSuccess.Store(now.UnixNano())
		return result, nil
	}

	claimed, err := s.store.ClaimIdentities(ctx, ids, now)
	if err != nil {
		s.metrics.RecordSweep("error", 0, time.Since(started))
		return nil, fmt.Errorf("failed to claim %d identities: %w", len(ids), err)
	}
	if claimed != int64(len(ids)) {
		// Rows deleted between selection and claim; their tasks end as missing
		logger.WithFields(map[string]interface{}{
			"selected": len(ids),
			"claimed":  claimed,
		}).Warn("Some selected identities were gone at claim time")
	}
	result.Claimed = ids

	var firstErr error
	for _, id := range ids {
		payload := CheckAuthIdentityPayload{AuthIdentityID: id}
		_, err := s.queue.Enqueue(ctx, TaskCheckAuthIdentity, payload, s.interval)
		s.metrics.RecordEnqueue(TaskCheckAuthIdentity, err)
		if err != nil {
			logger.WithError(err).WithField("auth_identity_id", id).Error("Failed to enqueue identity check")
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to enqueue check for identity %d: %w", id, err)
			}
			continue
		}
		result.Enqueued++
	}

	span.SetAttributes(
		attribute.Int("authcheck.claimed", len(ids)),
		attribute.Int("authcheck.enqueued", result.Enqueued),
	)

	status := "ok"
	if firstErr != nil {
		status = "partial"
	} else {
		s.lastSuccess.Store(now.UnixNano())
	}
	s.metrics.RecordSweep(status, len(ids), time.Since(started))

	logger.WithFields(map[string]interface{}{
		"claimed":  len(ids),
		"enqueued": result.Enqueued,
	}).Info("Verification sweep finished")

	return result, firstErr
}
