package conflict

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jask/bankmatch/internal/database/repository"
)

// DefaultDebounce is how long the watcher waits after the last Refresh
// before starting a detection pass.
const DefaultDebounce = 300 * time.Millisecond

// Watcher re-derives conflict pairs whenever the transaction set changes.
// Each Refresh supersedes any in-flight pass: the pass carries a generation
// number and silently discards its results if a newer Refresh arrived while
// it was running. Passes score manual transactions in fixed-size chunks and
// yield between chunks so a large ledger never starves the caller.
type Watcher struct {
	det      *Detector
	debounce time.Duration
	publish  func([]Pair)

	mu     sync.Mutex
	gen    uint64
	timer  *time.Timer
	input  map[string][]repository.Transaction
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher wraps det. publish receives the pair set of every completed,
// still-current pass. A non-positive debounce falls back to DefaultDebounce.
func NewWatcher(det *Detector, debounce time.Duration, publish func([]Pair)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		det:      det,
		debounce: debounce,
		publish:  publish,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Refresh replaces the watcher's input and schedules a detection pass after
// the debounce window. Rapid successive calls collapse into one pass.
func (w *Watcher) Refresh(txsByAccount map[string][]repository.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.input = txsByAccount
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		go w.run(gen)
	})
}

// Close cancels the debounce timer and any in-flight pass.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.cancel()
}

// current reports whether gen is still the newest generation.
func (w *Watcher) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed && w.gen == gen
}

// run executes one chunked detection pass for generation gen.
func (w *Watcher) run(gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case w.det.errs <- fmt.Errorf("conflict: detection pass: %v", r):
			default:
			}
		}
	}()

	w.mu.Lock()
	input := w.input
	w.mu.Unlock()
	if !w.current(gen) {
		return
	}

	type unit struct {
		manual repository.Transaction
		bank   []repository.Transaction
	}
	var work []unit
	for _, acct := range sortedKeys(input) {
		manual, bank := partition(input[acct])
		for _, m := range manual {
			work = append(work, unit{manual: m, bank: bank})
		}
	}

	var pairs []Pair
	seen := make(map[string]int)
	chunk := w.det.cfg.ChunkSize
	for start := 0; start < len(work); start += chunk {
		if !w.current(gen) || w.ctx.Err() != nil {
			return // superseded; discard partial results
		}
		end := start + chunk
		if end > len(work) {
			end = len(work)
		}
		for _, u := range work[start:end] {
			p, ok := w.det.bestPairFor(u.manual, u.bank)
			if !ok {
				continue
			}
			if i, dup := seen[u.manual.ID]; dup {
				if p.Score > pairs[i].Score {
					pairs[i] = p
				}
				continue
			}
			seen[u.manual.ID] = len(pairs)
			pairs = append(pairs, p)
		}
		runtime.Gosched()
	}

	if !w.current(gen) {
		return
	}
	w.publish(pairs)
}
