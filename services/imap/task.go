package imap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
)

type Connector interface {
	Connect(ctx context.Context, user *dto.User) (*Connection, error)
}

type ListenerConfig struct {
	RestartDelay     time.Duration
	ReadinessTimeout time.Duration
	QueueSize        int
}

// FailureHandler receives the error that ends an active listener after it entered IDLE.
type FailureHandler func(err error)

// ListenerTask runs one listener loop for a mailbox. Key is "user:<id>" or "customer:<id>".
type ListenerTask struct {
	Key   string
	Owner *dto.User

	connector  Connector
	handler    interfaces.MessageHandler
	recipients func() []*dto.User
	onFailure  FailureHandler
	cfg        ListenerConfig
	log        logger.Logger
	prefix     string

	mu        sync.Mutex
	conn      *Connection
	err       error
	active    bool
	started   bool
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

func NewListenerTask(
	key string,
	owner *dto.User,
	connector Connector,
	handler interfaces.MessageHandler,
	recipients func() []*dto.User,
	onFailure FailureHandler,
	cfg ListenerConfig,
	log logger.Logger,
) *ListenerTask {
	if recipients == nil {
		recipients = func() []*dto.User { return []*dto.User{owner} }
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DEFAULT_UPDATES_BUFFER
	}
	return &ListenerTask{
		Key:        key,
		Owner:      owner,
		connector:  connector,
		handler:    handler,
		recipients: recipients,
		onFailure:  onFailure,
		cfg:        cfg,
		log:        log,
		prefix:     fmt.Sprintf("[%s]", key),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the listener on its own goroutine. Failures go to the failure handler, never to the caller.
func (t *ListenerTask) Start(ctx context.Context, shouldDelayStart bool) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.active = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		defer tracing.RecoverAndLogToJaeger(t.log)
		t.run(ctx, shouldDelayStart)
	}()
}

func (t *ListenerTask) run(ctx context.Context, shouldDelayStart bool) {
	if shouldDelayStart && t.cfg.RestartDelay > 0 {
		t.log.Infof("%s delaying start by %s", t.prefix, t.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.RestartDelay):
		}
	}
	if !t.isActive() {
		return
	}

	conn, err := t.connector.Connect(ctx, t.Owner)
	if err != nil {
		t.fail(err)
		return
	}

	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	signals := make(chan struct{}, t.cfg.QueueSize)
	stopWatching := make(chan struct{})
	go t.watchUpdates(conn.Session, signals, stopWatching)

	err = t.listen(ctx, conn, signals)

	conn.Close()
	close(stopWatching)

	if err != nil {
		t.fail(err)
	}
	t.log.Infof("%s listener stopped", t.prefix)
}

// fail records err. Only a listener that reached IDLE hands it to the failure handler;
// before that the caller waiting in HasEnteredWaitState owns the failure.
func (t *ListenerTask) fail(err error) {
	t.mu.Lock()
	t.err = err
	active := t.active
	t.mu.Unlock()

	if !active {
		t.log.Debugf("%s ignoring error after disconnect: %v", t.prefix, err)
		return
	}
	t.log.Errorf("%s listener failed: %v", t.prefix, err)
	if t.isReady() && t.onFailure != nil {
		t.onFailure(err)
	}
}

// Err returns the error that ended the run, if any.
func (t *ListenerTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *ListenerTask) isActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *ListenerTask) markReady() {
	t.readyOnce.Do(func() {
		t.log.Infof("%s entered IDLE, listening for new mail", t.prefix)
		close(t.ready)
	})
}

func (t *ListenerTask) isReady() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// HasEnteredWaitState blocks until the first IDLE is entered. It returns false on timeout,
// cancellation, or when the run ended before reaching IDLE.
func (t *ListenerTask) HasEnteredWaitState(ctx context.Context) bool {
	timer := time.NewTimer(t.cfg.ReadinessTimeout)
	defer timer.Stop()

	select {
	case <-t.ready:
		return true
	case <-t.done:
		return t.isReady()
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Disconnect stops a listener that has entered IDLE and closes its connection.
func (t *ListenerTask) Disconnect() error {
	if !t.isReady() {
		return mailflowErrors.Termination(mailflowErrors.ErrNotListening, "%s cannot disconnect", t.prefix)
	}

	t.mu.Lock()
	t.active = false
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Session.Close()

	// the run goroutine logs out once IDLE returns; force it if IDLE hangs
	select {
	case <-t.done:
	case <-time.After(DEFAULT_LOGOUT_TIMEOUT):
		t.log.Warnf("%s listener did not leave IDLE, forcing logout", t.prefix)
		conn.Close()
	}
	return nil
}

// Cancel stops the run without the readiness check. Used when startup times out.
func (t *ListenerTask) Cancel() {
	t.mu.Lock()
	t.active = false
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Session.Close()
	}
}

func (t *ListenerTask) Done() <-chan struct{} {
	return t.done
}

func (t *ListenerTask) Ready() bool {
	return t.isReady()
}
