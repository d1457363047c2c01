package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/jask/bankmatch/internal/notify"
)

// State of one recorded failure.
type State string

const (
	StateReported   State = "reported"
	StateRecovering State = "recovering"
	StateExhausted  State = "exhausted"
)

// RecoveryError is the record of one failed operation and its retry history.
type RecoveryError struct {
	ID         string
	Kind       Kind
	Message    string
	Time       time.Time
	Context    map[string]string
	RetryCount int
	State      State
}

// Config holds recovery tunables.
type Config struct {
	MaxRetries             int
	BaseDelay              time.Duration
	ReconnectDelay         time.Duration
	AutoRetryNetworkIssues bool
}

// DefaultConfig returns the stock recovery settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:             3,
		BaseDelay:              time.Second,
		ReconnectDelay:         5 * time.Second,
		AutoRetryNetworkIssues: true,
	}
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Manager classifies, retries, and reports operation failures.
type Manager struct {
	cfg      Config
	notifier notify.Notifier

	mu     sync.Mutex
	errors map[string]*RecoveryError
	ops    map[string]Operation
	waits  map[string]*backoff.ExponentialBackOff
	timers map[string]*time.Timer
	closed bool
}

// NewManager returns a manager publishing status through notifier.
func NewManager(cfg Config, notifier notify.Notifier) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * cfg.BaseDelay
	}
	return &Manager{
		cfg:      cfg,
		notifier: notifier,
		errors:   make(map[string]*RecoveryError),
		ops:      make(map[string]Operation),
		waits:    make(map[string]*backoff.ExponentialBackOff),
		timers:   make(map[string]*time.Timer),
	}
}

// WithRecovery executes op and, on failure, records a RecoveryError and
// notifies the user with a kind-specific message. The original error is
// returned unchanged so the caller's own rollback logic still runs; no
// automatic retry is scheduled from here.
func (m *Manager) WithRecovery(ctx context.Context, kind Kind, label string, op Operation) error {
	if err := op(ctx); err != nil {
		m.record(kind, label, err)
		m.notifier.Notify(notify.SeverityError, FriendlyMessage(kind))
		return err
	}
	return nil
}

// Report records an ambient failure (one with no caller waiting on it) and,
// when the strategy for its kind is retry, schedules automatic recovery of
// op. Network-kind auto-retry is gated on AutoRetryNetworkIssues. It returns
// the record's id.
func (m *Manager) Report(ctx context.Context, kind Kind, label string, err error, op Operation) string {
	rec := m.record(kind, label, err)
	m.notifier.Notify(notify.SeverityError, FriendlyMessage(kind))

	if op == nil {
		return rec.ID
	}
	if kind == KindNetwork && !m.cfg.AutoRetryNetworkIssues {
		return rec.ID
	}
	if StrategyFor(kind, 0, m.cfg.MaxRetries) != StrategyRetry {
		return rec.ID
	}

	m.mu.Lock()
	m.ops[rec.ID] = op
	m.waits[rec.ID] = newSchedule(m.cfg.BaseDelay)
	m.mu.Unlock()
	m.scheduleRetry(ctx, rec.ID)
	return rec.ID
}

// Recover triggers one manual recovery attempt for a retained error,
// following the strategy for its kind and retry history. For reauth the
// manager only prompts; it never retries authentication itself.
func (m *Manager) Recover(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.errors[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("recovery: no error with id %s", id)
	}
	op := m.ops[id]
	strategy := StrategyFor(rec.Kind, rec.RetryCount, m.cfg.MaxRetries)
	m.mu.Unlock()

	switch strategy {
	case StrategyRetry:
		return m.attempt(ctx, id)
	case StrategyReconnect, StrategyRefresh:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReconnectDelay):
		}
		if op == nil {
			return fmt.Errorf("recovery: nothing to re-run for %s", id)
		}
		return m.attempt(ctx, id)
	case StrategyReauth:
		m.notifier.Notify(notify.SeverityWarning, "Re-authentication required. Please sign in again.")
		return fmt.Errorf("recovery: re-authentication required")
	case StrategyIgnore:
		m.resolve(id)
		return nil
	default: // manual
		return fmt.Errorf("recovery: %s requires manual intervention", rec.Kind)
	}
}

// Errors returns the currently retained error records, newest first.
func (m *Manager) Errors() []RecoveryError {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecoveryError, 0, len(m.errors))
	for _, rec := range m.errors {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

// Resolve drops a retained error that the user has dealt with out of band.
func (m *Manager) Resolve(id string) { m.resolve(id) }

// Close cancels all pending retry timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) record(kind Kind, label string, err error) *RecoveryError {
	rec := &RecoveryError{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: err.Error(),
		Time:    time.Now().UTC(),
		Context: map[string]string{"operation": label},
		State:   StateReported,
	}
	m.mu.Lock()
	m.errors[rec.ID] = rec
	m.mu.Unlock()
	return rec
}

func (m *Manager) resolve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	delete(m.errors, id)
	delete(m.ops, id)
	delete(m.waits, id)
}

// scheduleRetry arms a timer for the next automatic attempt. Delay grows as
// BaseDelay * 2^retryCount.
func (m *Manager) scheduleRetry(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	rec, ok := m.errors[id]
	if !ok {
		return
	}
	wait, ok := m.waits[id]
	if !ok {
		return
	}
	rec.State = StateRecovering
	m.timers[id] = time.AfterFunc(wait.NextBackOff(), func() {
		_ = m.attempt(ctx, id)
	})
}

// attempt runs one recovery attempt and either clears the record, schedules
// the next attempt, or marks the record exhausted.
func (m *Manager) attempt(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.errors[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	op := m.ops[id]
	if op == nil {
		// nothing runnable; the record keeps its reported state
		m.mu.Unlock()
		return fmt.Errorf("recovery: nothing to re-run for %s", id)
	}
	rec.State = StateRecovering
	attempt := rec.RetryCount + 1
	limit := retryLimit(rec.Kind, m.cfg.MaxRetries)
	m.mu.Unlock()

	m.notifier.Notify(notify.SeverityInfo,
		fmt.Sprintf("Retrying %s (attempt %d of %d)", rec.Context["operation"], attempt, limit))

	err := op(ctx)
	if err == nil {
		m.resolve(id)
		m.notifier.Notify(notify.SeveritySuccess,
			fmt.Sprintf("Recovered: %s", rec.Context["operation"]))
		return nil
	}

	m.mu.Lock()
	rec.RetryCount++
	rec.Message = err.Error()
	exhausted := rec.RetryCount >= limit
	if exhausted {
		rec.State = StateExhausted
		delete(m.ops, id)
		delete(m.waits, id)
		if t, ok := m.timers[id]; ok {
			t.Stop()
			delete(m.timers, id)
		}
	}
	m.mu.Unlock()

	if exhausted {
		m.notifier.Notify(notify.SeverityWarning,
			fmt.Sprintf("Gave up on %s after %d attempts. Manual intervention required.",
				rec.Context["operation"], rec.RetryCount))
		return err
	}

	m.scheduleRetry(ctx, id)
	return err
}

// newSchedule builds the deterministic exponential schedule: base, 2x, 4x...
func newSchedule(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
