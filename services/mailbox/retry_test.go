package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/logger"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

type recordingTarget struct {
	mu        sync.Mutex
	teardowns []int64
	restarts  []int64
	attempts  []int
	gaveUp    []int64
}

func (r *recordingTarget) teardown(ctx context.Context, userId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardowns = append(r.teardowns, userId)
}

func (r *recordingTarget) restart(ctx context.Context, user *dto.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts = append(r.restarts, user.Id)
}

func (r *recordingTarget) retrying(ctx context.Context, user *dto.User, attempt int, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}

func (r *recordingTarget) giveUp(ctx context.Context, user *dto.User, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaveUp = append(r.gaveUp, user.Id)
}

type scheduled struct {
	delay time.Duration
	fire  func()
}

// stubTimers replaces time.AfterFunc with timers that only fire when the test says so.
type stubTimers struct {
	mu        sync.Mutex
	scheduled []scheduled
}

func (s *stubTimers) afterFunc(d time.Duration, f func()) *time.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduled{delay: d, fire: f})
	return time.NewTimer(time.Hour)
}

func (s *stubTimers) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delays := make([]time.Duration, 0, len(s.scheduled))
	for _, sc := range s.scheduled {
		delays = append(delays, sc.delay)
	}
	return delays
}

func (s *stubTimers) last() scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled[len(s.scheduled)-1]
}

func newTestRetryManager() (*RetryManager, *recordingTarget, *stubTimers) {
	target := &recordingTarget{}
	timers := &stubTimers{}
	m := NewRetryManager(RetryConfig{MaxRetries: 3, Base: 3}, testLogger())
	m.setTarget(target)
	m.afterFunc = timers.afterFunc
	return m, target, timers
}

func TestRetryManager_Defaults(t *testing.T) {
	m := NewRetryManager(RetryConfig{}, testLogger())
	assert.Equal(t, 3, m.cfg.MaxRetries)
	assert.Equal(t, 3, m.cfg.Base)
}

func TestRetryManager_ExponentialDelays(t *testing.T) {
	m, target, timers := newTestRetryManager()
	user := &dto.User{Id: 7}
	cause := errors.New("connection reset")

	for i := 0; i < 3; i++ {
		m.handle(context.Background(), failure{user: user, cause: cause})
	}

	assert.Equal(t, []time.Duration{3 * time.Second, 9 * time.Second, 27 * time.Second}, timers.delays())
	assert.Equal(t, []int{1, 2, 3}, target.attempts)
	assert.Equal(t, []int64{7, 7, 7}, target.teardowns)
	assert.Equal(t, 3, m.Attempts(7))
	assert.True(t, m.Pending(7))
	assert.Empty(t, target.gaveUp)
}

func TestRetryManager_GivesUpAfterMaxRetries(t *testing.T) {
	m, target, timers := newTestRetryManager()
	user := &dto.User{Id: 7}

	for i := 0; i < 4; i++ {
		m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	}

	assert.Len(t, timers.delays(), 3)
	assert.Equal(t, []int64{7}, target.gaveUp)
	assert.Equal(t, 0, m.Attempts(7))

	// the next failure starts a fresh series
	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	assert.Equal(t, 3*time.Second, timers.last().delay)
}

func TestRetryManager_ResetOnSuccess(t *testing.T) {
	m, _, timers := newTestRetryManager()
	user := &dto.User{Id: 7}

	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	m.Reset(7)
	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})

	assert.Equal(t, []time.Duration{3 * time.Second, 9 * time.Second, 3 * time.Second}, timers.delays())
}

func TestRetryManager_TimerRestartsUser(t *testing.T) {
	m, target, timers := newTestRetryManager()
	user := &dto.User{Id: 7}

	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	require.True(t, m.Pending(7))
	assert.Equal(t, []int64{7}, m.PendingUsers())

	timers.last().fire()

	assert.Equal(t, []int64{7}, target.restarts)
	assert.False(t, m.Pending(7))
	assert.Equal(t, 1, m.Attempts(7), "the counter survives until a successful start resets it")
}

func TestRetryManager_CancelDropsSchedule(t *testing.T) {
	m, _, _ := newTestRetryManager()
	user := &dto.User{Id: 7}

	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	m.Cancel(7)

	assert.False(t, m.Pending(7))
	assert.Equal(t, 0, m.Attempts(7))
}

func TestRetryManager_StopSuppressesRestarts(t *testing.T) {
	m, target, timers := newTestRetryManager()
	user := &dto.User{Id: 7}

	m.handle(context.Background(), failure{user: user, cause: errors.New("down")})
	m.Stop()
	m.Stop()
	timers.last().fire()

	assert.Empty(t, target.restarts)
	assert.Empty(t, m.PendingUsers())

	done := make(chan struct{})
	go func() {
		m.HandleListenerFailure(user, errors.New("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleListenerFailure blocked after Stop")
	}
}

func TestRetryManager_RunProcessesFailures(t *testing.T) {
	m, target, _ := newTestRetryManager()
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	m.HandleListenerFailure(&dto.User{Id: 7}, errors.New("down"))

	assert.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return len(target.attempts) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
