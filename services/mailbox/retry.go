package mailbox

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
)

type RetryConfig struct {
	MaxRetries int
	Base       int
}

// retryTarget is what the retry manager drives. The orchestrator implements it.
type retryTarget interface {
	teardown(ctx context.Context, userId int64)
	restart(ctx context.Context, user *dto.User)
	retrying(ctx context.Context, user *dto.User, attempt int, cause error)
	giveUp(ctx context.Context, user *dto.User, cause error)
}

type failure struct {
	user  *dto.User
	cause error
}

// RetryManager serialises listener failures on a single scheduler goroutine. The n-th
// consecutive failure of a user schedules a restart after base^n seconds; failure
// max+1 gives up until something restarts the user from outside.
type RetryManager struct {
	cfg    RetryConfig
	log    logger.Logger
	target retryTarget

	// replaced in tests
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu       sync.Mutex
	counters map[int64]int
	timers   map[int64]*time.Timer

	failures chan failure
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRetryManager(cfg RetryConfig, log logger.Logger) *RetryManager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Base <= 1 {
		cfg.Base = 3
	}
	return &RetryManager{
		cfg:       cfg,
		log:       log,
		afterFunc: time.AfterFunc,
		counters:  make(map[int64]int),
		timers:    make(map[int64]*time.Timer),
		failures:  make(chan failure, 100),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *RetryManager) setTarget(target retryTarget) {
	m.target = target
}

// Run is the scheduler loop. It returns when ctx is cancelled or Stop is called.
func (m *RetryManager) Run(ctx context.Context) {
	defer close(m.done)
	defer tracing.RecoverAndLogToJaeger(m.log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case f := <-m.failures:
			m.handle(ctx, f)
		}
	}
}

// HandleListenerFailure enqueues a failure for the scheduler.
func (m *RetryManager) HandleListenerFailure(user *dto.User, cause error) {
	select {
	case m.failures <- failure{user: user, cause: cause}:
	case <-m.stop:
	}
}

func (m *RetryManager) handle(ctx context.Context, f failure) {
	userId := f.user.Id
	m.target.teardown(ctx, userId)

	m.mu.Lock()
	attempt, ok := m.counters[userId]
	if !ok {
		attempt = 1
	}
	if attempt > m.cfg.MaxRetries {
		delete(m.counters, userId)
		m.mu.Unlock()

		m.log.Errorf("[user:%d] giving up after %d retries: %v", userId, m.cfg.MaxRetries, f.cause)
		m.target.giveUp(ctx, f.user, f.cause)
		return
	}

	delay := m.Delay(attempt)
	m.counters[userId] = attempt + 1
	if existing := m.timers[userId]; existing != nil {
		existing.Stop()
	}
	user := f.user
	var timer *time.Timer
	timer = m.afterFunc(delay, func() {
		m.mu.Lock()
		if m.timers[userId] == timer {
			delete(m.timers, userId)
		}
		m.mu.Unlock()

		select {
		case <-m.stop:
			return
		default:
		}
		m.target.restart(ctx, user)
	})
	m.timers[userId] = timer
	m.mu.Unlock()

	m.log.Warnf("[user:%d] retry %d/%d in %s: %v", userId, attempt, m.cfg.MaxRetries, delay, f.cause)
	m.target.retrying(ctx, f.user, attempt, f.cause)
}

// Delay is base^attempt seconds.
func (m *RetryManager) Delay(attempt int) time.Duration {
	return time.Duration(math.Pow(float64(m.cfg.Base), float64(attempt))) * time.Second
}

// Reset forgets the failure count after a successful connection.
func (m *RetryManager) Reset(userId int64) {
	m.mu.Lock()
	delete(m.counters, userId)
	m.mu.Unlock()
}

// Cancel drops a scheduled restart and the failure count.
func (m *RetryManager) Cancel(userId int64) {
	m.mu.Lock()
	if timer := m.timers[userId]; timer != nil {
		timer.Stop()
		delete(m.timers, userId)
	}
	delete(m.counters, userId)
	m.mu.Unlock()
}

func (m *RetryManager) Pending(userId int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[userId]
	return ok
}

func (m *RetryManager) Attempts(userId int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next, ok := m.counters[userId]; ok {
		return next - 1
	}
	return 0
}

func (m *RetryManager) PendingUsers() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.timers))
	for id := range m.timers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stop cancels every scheduled restart and ends the scheduler loop.
func (m *RetryManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		for id, timer := range m.timers {
			timer.Stop()
			delete(m.timers, id)
		}
		m.mu.Unlock()
	})
}
