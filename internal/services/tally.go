package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/14kear/quickpoll/internal/lib/logger/sl"
)

// VoteCounter is the ledger-side reconciliation query: vote counts per option,
// computed strictly from appended votes.
type VoteCounter interface {
	CountVotes(ctx context.Context, pollID int64) (map[string]int64, error)
}

// Aggregator owns the derived tallies. Each poll gets its own entry with its
// own mutex, so increments for one poll are serialized while unrelated polls
// proceed in parallel. The registry itself is guarded by an RWMutex.
//
// The tally is a cache over the ledger, never a second source of truth:
// an entry is seeded from the ledger before its first use, and Recompute
// rebuilds it from the ledger and wins on disagreement.
type Aggregator struct {
	log     *slog.Logger
	counter VoteCounter

	mu      sync.RWMutex
	tallies map[int64]*pollTally
}

type pollTally struct {
	mu     sync.Mutex
	seeded bool
	tally  entity.Tally
}

func NewAggregator(log *slog.Logger, counter VoteCounter) *Aggregator {
	return &Aggregator{
		log:     log,
		counter: counter,
		tallies: make(map[int64]*pollTally),
	}
}

// Prime registers an empty seeded tally for a freshly created poll, so its
// first ApplyVote takes the increment path instead of a ledger rebuild.
// Must only be called for a poll with no ledger entries.
func (a *Aggregator) Prime(pollID int64) {
	entry := a.entry(pollID)

	entry.mu.Lock()
	entry.seeded = true
	entry.mu.Unlock()
}

// ApplyVote folds one freshly appended vote into the cached tally, bumping
// the version by exactly one. On first sight of a poll (cold cache after a
// restart) the entry is seeded from the ledger instead: the ledger already
// contains the vote being applied, and incrementing a zero entry would
// undercount every vote recorded before the restart.
func (a *Aggregator) ApplyVote(ctx context.Context, pollID int64, option string) (entity.Tally, error) {
	const op = "Aggregator.ApplyVote"

	entry := a.entry(pollID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.seeded {
		if err := a.reloadLocked(ctx, entry, pollID); err != nil {
			return entity.Tally{}, fmt.Errorf("%s: %w", op, err)
		}
		return entry.tally.Clone(), nil
	}

	entry.tally.Counts[option]++
	entry.tally.Total++
	entry.tally.Version++

	return entry.tally.Clone(), nil
}

// Recompute rebuilds the tally from the ledger. A disagreement with the
// incrementally maintained value is logged and corrected in favor of the
// ledger. Version never moves backwards.
func (a *Aggregator) Recompute(ctx context.Context, pollID int64) (entity.Tally, error) {
	const op = "Aggregator.Recompute"

	entry := a.entry(pollID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := a.reloadLocked(ctx, entry, pollID); err != nil {
		return entity.Tally{}, fmt.Errorf("%s: %w", op, err)
	}

	return entry.tally.Clone(), nil
}

// Snapshot returns the cached tally, seeding from the ledger the first time
// a poll is seen (cold cache after restart).
func (a *Aggregator) Snapshot(ctx context.Context, pollID int64) (entity.Tally, error) {
	const op = "Aggregator.Snapshot"

	entry := a.entry(pollID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.seeded {
		if err := a.reloadLocked(ctx, entry, pollID); err != nil {
			return entity.Tally{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	return entry.tally.Clone(), nil
}

// reloadLocked overwrites entry's tally with the ledger's counts and marks
// it seeded. The caller holds entry.mu.
func (a *Aggregator) reloadLocked(ctx context.Context, entry *pollTally, pollID int64) error {
	counts, err := a.counter.CountVotes(ctx, pollID)
	if err != nil {
		return err
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	if entry.seeded && drifted(entry.tally.Counts, counts) {
		a.log.Warn("tally drift corrected from ledger",
			slog.Int64("poll_id", pollID),
			slog.Int64("cached_total", entry.tally.Total),
			slog.Int64("ledger_total", total),
		)
	}

	entry.tally.Counts = counts
	entry.tally.Total = total
	if total > entry.tally.Version {
		entry.tally.Version = total
	}
	entry.seeded = true

	return nil
}

func (a *Aggregator) entry(pollID int64) *pollTally {
	a.mu.RLock()
	entry, ok := a.tallies[pollID]
	a.mu.RUnlock()
	if ok {
		return entry
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok = a.tallies[pollID]; ok {
		return entry
	}

	entry = &pollTally{tally: entity.Tally{
		PollID: pollID,
		Counts: make(map[string]int64),
	}}
	a.tallies[pollID] = entry

	return entry
}

func drifted(cached, ledger map[string]int64) bool {
	for option, n := range ledger {
		if cached[option] != n {
			return true
		}
	}
	for option, n := range cached {
		if n != 0 && ledger[option] != n {
			return true
		}
	}
	return false
}

// ActivePollLister is the slice of poll storage the reconciler needs.
type ActivePollLister interface {
	ListActivePolls(ctx context.Context) ([]entity.Poll, error)
}

// Reconciler periodically sweeps every active poll through Recompute. It is
// the self-healing loop that repairs a tally left stale by a failure after
// the ledger append.
type Reconciler struct {
	log    *slog.Logger
	agg    *Aggregator
	polls  ActivePollLister
	period time.Duration
}

func NewReconciler(log *slog.Logger, agg *Aggregator, polls ActivePollLister, period time.Duration) *Reconciler {
	return &Reconciler{log: log, agg: agg, polls: polls, period: period}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	const op = "Reconciler.sweep"

	polls, err := r.polls.ListActivePolls(ctx)
	if err != nil {
		r.log.Error("failed to list polls for reconciliation", slog.String("op", op), sl.Err(err))
		return
	}

	for _, poll := range polls {
		if _, err := r.agg.Recompute(ctx, poll.ID); err != nil {
			r.log.Error("failed to recompute tally",
				slog.String("op", op),
				slog.Int64("poll_id", poll.ID),
				sl.Err(err),
			)
		}
	}
}
