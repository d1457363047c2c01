package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankmatch/internal/notify"
)

type capture struct {
	mu   sync.Mutex
	list []notify.Notification
}

func (c *capture) add(n notify.Notification) {
	c.mu.Lock()
	c.list = append(c.list, n)
	c.mu.Unlock()
}

func (c *capture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.list))
	for i, n := range c.list {
		out[i] = n.Message
	}
	return out
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *capture) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hub := notify.NewHub(logger)
	c := &capture{}
	hub.Subscribe(c.add)
	m := NewManager(cfg, hub)
	t.Cleanup(m.Close)
	return m, c
}

func TestStrategyTable(t *testing.T) {
	t.Parallel()

	const maxRetries = 3
	cases := []struct {
		kind       Kind
		retryCount int
		want       Strategy
	}{
		{KindNetwork, 0, StrategyRetry},
		{KindNetwork, 2, StrategyRetry},
		{KindNetwork, 3, StrategyReconnect},
		{KindSyncFailure, 0, StrategyRetry},
		{KindSyncFailure, 1, StrategyRetry},
		{KindSyncFailure, 2, StrategyManual}, // capped at 2 attempts
		{KindValidation, 0, StrategyManual},
		{KindValidation, 3, StrategyManual},
		{KindPermission, 0, StrategyReauth},
		{KindPermission, 3, StrategyReauth},
		{KindTimeout, 0, StrategyRetry},
		{KindTimeout, 2, StrategyRetry},
		{KindTimeout, 3, StrategyManual}, // capped at 3 attempts
		{KindConflict, 0, StrategyManual},
		{KindUnknown, 0, StrategyManual},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("%s_%d", tc.kind, tc.retryCount), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, StrategyFor(tc.kind, tc.retryCount, maxRetries))
		})
	}
}

func TestWithRecoverySuccessIsTransparent(t *testing.T) {
	t.Parallel()

	m, c := newTestManager(t, DefaultConfig())
	err := m.WithRecovery(context.Background(), KindConflict, "resolve", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, m.Errors())
	require.Empty(t, c.messages())
}

func TestWithRecoveryInstrumentsButRethrows(t *testing.T) {
	t.Parallel()

	m, c := newTestManager(t, DefaultConfig())
	boom := errors.New("persistence down")
	err := m.WithRecovery(context.Background(), KindConflict, "resolve", func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	errs := m.Errors()
	require.Len(t, errs, 1)
	require.Equal(t, KindConflict, errs[0].Kind)
	require.Equal(t, "persistence down", errs[0].Message)
	require.Equal(t, 0, errs[0].RetryCount)
	require.Equal(t, StateReported, errs[0].State)

	msgs := c.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, FriendlyMessage(KindConflict), msgs[0])
}

func TestReportAutoRetriesNetworkUntilExhausted(t *testing.T) {
	t.Parallel()

	m, c := newTestManager(t, Config{
		MaxRetries:             3,
		BaseDelay:              time.Millisecond,
		AutoRetryNetworkIssues: true,
	})

	var mu sync.Mutex
	attempts := 0
	op := func(ctx context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("still unreachable")
	}

	id := m.Report(context.Background(), KindNetwork, "engine sync", errors.New("unreachable"), op)

	require.Eventually(t, func() bool {
		for _, e := range m.Errors() {
			if e.ID == id && e.State == StateExhausted {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// retry count stopped exactly at the bound and no further attempt runs
	errs := m.Errors()
	require.Len(t, errs, 1)
	require.Equal(t, 3, errs[0].RetryCount)

	mu.Lock()
	finalAttempts := attempts
	mu.Unlock()
	require.Equal(t, 3, finalAttempts)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, finalAttempts, attempts)
	mu.Unlock()

	// once exhausted, subsequent handling would reconnect rather than retry
	require.Equal(t, StrategyReconnect, StrategyFor(KindNetwork, errs[0].RetryCount, 3))

	found := false
	for _, msg := range c.messages() {
		if msg == "Gave up on engine sync after 3 attempts. Manual intervention required." {
			found = true
		}
	}
	require.True(t, found, "exhaustion notification missing; got %v", c.messages())
}

func TestReportRecoversWhenOperationHeals(t *testing.T) {
	t.Parallel()

	m, c := newTestManager(t, Config{
		MaxRetries:             3,
		BaseDelay:              time.Millisecond,
		AutoRetryNetworkIssues: true,
	})

	var mu sync.Mutex
	attempts := 0
	op := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("flaky")
		}
		return nil
	}

	m.Report(context.Background(), KindNetwork, "engine sync", errors.New("flaky"), op)

	require.Eventually(t, func() bool {
		return len(m.Errors()) == 0
	}, 2*time.Second, 5*time.Millisecond)

	found := false
	for _, msg := range c.messages() {
		if msg == "Recovered: engine sync" {
			found = true
		}
	}
	require.True(t, found, "recovery notification missing; got %v", c.messages())
}

func TestReportNeverRetriesManualKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindValidation, KindConflict, KindUnknown} {
		m, _ := newTestManager(t, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

		var mu sync.Mutex
		attempts := 0
		m.Report(context.Background(), kind, "op", errors.New("nope"), func(ctx context.Context) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil
		})

		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		require.Zero(t, attempts, "kind %s must not auto-retry", kind)
		mu.Unlock()
		require.Len(t, m.Errors(), 1, "record for %s retained for manual handling", kind)
	}
}

func TestReportHonoursAutoRetryNetworkFlag(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{
		MaxRetries:             3,
		BaseDelay:              time.Millisecond,
		AutoRetryNetworkIssues: false,
	})

	var mu sync.Mutex
	attempts := 0
	m.Report(context.Background(), KindNetwork, "op", errors.New("down"), func(ctx context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	require.Zero(t, attempts)
	mu.Unlock()
}

func TestRecoverReauthPromptsAndFails(t *testing.T) {
	t.Parallel()

	m, c := newTestManager(t, DefaultConfig())
	id := m.Report(context.Background(), KindPermission, "op", errors.New("401"), nil)

	err := m.Recover(context.Background(), id)
	require.Error(t, err)

	msgs := c.messages()
	require.Contains(t, msgs, "Re-authentication required. Please sign in again.")
	require.Len(t, m.Errors(), 1)
}

func TestRecoverWithoutOperationKeepsRecordReported(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{
		MaxRetries:             3,
		BaseDelay:              time.Millisecond,
		AutoRetryNetworkIssues: false,
	})
	id := m.Report(context.Background(), KindNetwork, "op", errors.New("down"), nil)

	err := m.Recover(context.Background(), id)
	require.Error(t, err)

	// no runnable operation means the record never enters recovering
	errs := m.Errors()
	require.Len(t, errs, 1)
	require.Equal(t, StateReported, errs[0].State)
}

func TestResolveClearsRetainedError(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	id := m.Report(context.Background(), KindValidation, "op", errors.New("bad data"), nil)
	require.Len(t, m.Errors(), 1)

	m.Resolve(id)
	require.Empty(t, m.Errors())
}

func TestFriendlyMessagesCoverAllKinds(t *testing.T) {
	t.Parallel()

	kinds := []Kind{KindNetwork, KindSyncFailure, KindValidation, KindPermission, KindTimeout, KindConflict, KindUnknown}
	seen := map[string]bool{}
	for _, k := range kinds {
		msg := FriendlyMessage(k)
		require.NotEmpty(t, msg)
		seen[msg] = true
	}
	// each kind reads differently to the user except the generic fallback
	require.GreaterOrEqual(t, len(seen), 6)
}
