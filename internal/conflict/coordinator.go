package conflict

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jask/bankmatch/internal/database"
	"github.com/jask/bankmatch/internal/database/repository"
	"github.com/jask/bankmatch/internal/notify"
	"github.com/jask/bankmatch/internal/recovery"
)

// Resolver persists a conflict resolution. Implementations live in
// internal/engine; failures surface as ordinary errors and are classified
// by the recovery manager.
type Resolver interface {
	ResolveConflict(ctx context.Context, txID, resolution string) error
	ResolveConflictsBatch(ctx context.Context, txIDs []string, resolution string) error
}

// Coordinator owns the active conflict set and exposes the resolution
// operations. Mutations are optimistic: a pair is marked with its chosen
// action before the persistence call is issued, and reverted if the call
// fails. No pair is ever left in the resolving state once an operation
// settles.
type Coordinator struct {
	resolver Resolver
	recov    *recovery.Manager
	notifier notify.Notifier
	history  *repository.ResolutionRepo // optional audit trail

	mu    sync.Mutex
	pairs map[string]*Pair
	order []string
	subs  []func([]Pair)
}

// NewCoordinator builds a coordinator. history may be nil when no audit
// trail is wanted.
func NewCoordinator(resolver Resolver, recov *recovery.Manager, notifier notify.Notifier, history *repository.ResolutionRepo) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		recov:    recov,
		notifier: notifier,
		history:  history,
		pairs:    make(map[string]*Pair),
	}
}

// Subscribe registers fn for every change to the active pair set. The
// callback receives a snapshot and must not call back into the coordinator.
func (c *Coordinator) Subscribe(fn func([]Pair)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Pairs returns a snapshot of the active set in detection order.
func (c *Coordinator) Pairs() []Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Get returns one pair by id.
func (c *Coordinator) Get(pairID string) (Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[pairID]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// SetPairs installs a fresh detection result. Pairs whose resolution is in
// flight survive the swap untouched; everything else is replaced, which also
// drops pairs whose underlying transactions disappeared from the input.
func (c *Coordinator) SetPairs(pairs []Pair) {
	c.mu.Lock()

	// in-flight pairs by id, plus a guard on their manual tx ids
	keep := make(map[string]*Pair)
	inFlight := make(map[string]struct{})
	for _, id := range c.order {
		p := c.pairs[id]
		if p.Status == StatusResolving {
			keep[id] = p
			inFlight[p.Manual.ID] = struct{}{}
		}
	}

	known := make(map[string]struct{}, len(c.pairs))
	for _, p := range c.pairs {
		known[p.Manual.ID] = struct{}{}
	}

	c.pairs = make(map[string]*Pair, len(pairs)+len(keep))
	c.order = c.order[:0]
	for id, p := range keep {
		c.pairs[id] = p
		c.order = append(c.order, id)
	}
	fresh := 0
	for i := range pairs {
		p := pairs[i]
		if _, busy := inFlight[p.Manual.ID]; busy {
			continue
		}
		if p.Status == "" {
			p.Status = StatusUnresolved
		}
		c.pairs[p.ID] = &p
		c.order = append(c.order, p.ID)
		if _, ok := known[p.Manual.ID]; !ok {
			fresh++
		}
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if fresh > 0 {
		c.notifier.Notify(notify.SeverityInfo,
			fmt.Sprintf("Found %d potential duplicate transaction(s) from your bank feed", fresh))
	}
	c.emit(snapshot)
}

// ResolveOne applies action to a single pair: optimistic local mutation,
// then the persistence call through the recovery manager, then commit or
// rollback. A pair already resolving rejects the second attempt.
func (c *Coordinator) ResolveOne(ctx context.Context, pairID string, action Action) error {
	if !ValidAction(action) {
		return fmt.Errorf("conflict: unknown action %q", action)
	}

	c.mu.Lock()
	p, ok := c.pairs[pairID]
	if !ok {
		c.mu.Unlock()
		return ErrPairNotFound
	}
	if p.Status == StatusResolving {
		c.mu.Unlock()
		return ErrPairResolving
	}
	// optimistic: the snapshot shows the decision before the call settles
	p.Status = StatusResolving
	p.Action = action
	manualID := p.Manual.ID
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snapshot)
	c.notifier.Notify(notify.SeverityInfo, "Resolving duplicate transaction...")

	err := c.recov.WithRecovery(ctx, recovery.KindConflict, "resolve conflict", func(ctx context.Context) error {
		return c.resolver.ResolveConflict(ctx, manualID, string(action))
	})

	c.mu.Lock()
	if err != nil {
		// rollback: the user sees the true state and can retry
		p.Status = StatusUnresolved
		p.Action = ""
		snapshot = c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snapshot)
		return err
	}
	p.Status = StatusResolved
	resolved := *p
	c.removeLocked(pairID)
	snapshot = c.snapshotLocked()
	c.mu.Unlock()

	c.recordResolution(ctx, resolved)
	c.emit(snapshot)
	c.notifier.Notify(notify.SeveritySuccess, "Duplicate resolved")
	return nil
}

// ResolveAll applies action to every unresolved pair in one batched
// persistence call. The batch is all-or-nothing: any failure rolls back
// every pair that was part of it.
func (c *Coordinator) ResolveAll(ctx context.Context, action Action) error {
	if !ValidAction(action) {
		return fmt.Errorf("conflict: unknown action %q", action)
	}

	c.mu.Lock()
	var batch []*Pair
	var txIDs []string
	for _, id := range c.order {
		p := c.pairs[id]
		if p.Status != StatusUnresolved {
			continue
		}
		p.Status = StatusResolving
		p.Action = action
		batch = append(batch, p)
		txIDs = append(txIDs, p.Manual.ID)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	c.emit(snapshot)
	c.notifier.Notify(notify.SeverityInfo,
		fmt.Sprintf("Resolving %d duplicate transaction(s)...", len(batch)))

	err := c.recov.WithRecovery(ctx, recovery.KindConflict, "resolve all conflicts", func(ctx context.Context) error {
		return c.resolver.ResolveConflictsBatch(ctx, txIDs, string(action))
	})

	c.mu.Lock()
	if err != nil {
		for _, p := range batch {
			if p.Status == StatusResolving {
				p.Status = StatusUnresolved
				p.Action = ""
			}
		}
		snapshot = c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snapshot)
		return err
	}
	resolved := make([]Pair, 0, len(batch))
	for _, p := range batch {
		p.Status = StatusResolved
		resolved = append(resolved, *p)
		c.removeLocked(p.ID)
	}
	snapshot = c.snapshotLocked()
	c.mu.Unlock()

	for _, p := range resolved {
		c.recordResolution(ctx, p)
	}
	c.emit(snapshot)
	c.notifier.Notify(notify.SeveritySuccess,
		fmt.Sprintf("Resolved %d duplicate transaction(s)", len(resolved)))
	return nil
}

func (c *Coordinator) snapshotLocked() []Pair {
	out := make([]Pair, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.pairs[id])
	}
	return out
}

func (c *Coordinator) removeLocked(pairID string) {
	delete(c.pairs, pairID)
	for i, id := range c.order {
		if id == pairID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Coordinator) emit(snapshot []Pair) {
	c.mu.Lock()
	subs := make([]func([]Pair), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// recordResolution writes the audit row for a settled pair. Best effort:
// the resolution itself already succeeded remotely.
func (c *Coordinator) recordResolution(ctx context.Context, p Pair) {
	if c.history == nil {
		return
	}
	res := repository.Resolution{
		ID:         uuid.NewString(),
		PairID:     p.ID,
		ManualID:   p.Manual.ID,
		ImportedID: p.Imported.ID,
		Action:     string(p.Action),
		Score:      p.Score,
		ResolvedAt: database.Now(),
	}
	if err := c.history.Insert(ctx, res); err != nil {
		c.notifier.Notify(notify.SeverityWarning, "Resolved, but the audit record could not be saved")
	}
}
