package mailbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailflow/api/errors"
	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/enum"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/models"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
	"github.com/customeros/mailflow/services/imap"
)

type OrchestratorConfig struct {
	Listener    imap.ListenerConfig
	Retry       RetryConfig
	StopTimeout time.Duration
}

type OrchestratorDeps struct {
	Directory interfaces.DirectoryService
	Connector imap.Connector
	Handler   interfaces.MessageHandler
	Reporter  interfaces.ErrorReporter
	Cache     interfaces.MessageConfigCache
	States    interfaces.ListenerStateRepository
}

type entry struct {
	key        string
	owner      *dto.User
	customerId int64
	trial      bool
	task       *imap.ListenerTask
	members    map[int64]*dto.User
}

// live reports whether the entry still has a task that has not ended.
func (e *entry) live() bool {
	if e.task == nil {
		return false
	}
	select {
	case <-e.task.Done():
		return false
	default:
		return true
	}
}

func (e *entry) memberIds() []int64 {
	ids := make([]int64, 0, len(e.members))
	for id := range e.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Orchestrator owns every listener task. A registry key is "user:<id>", or "customer:<id>" for
// trial customers whose users share one mailbox.
type Orchestrator struct {
	cfg   OrchestratorConfig
	deps  OrchestratorDeps
	log   logger.Logger
	retry *RetryManager

	// listeners outlive the request that started them
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*entry
	userKeys map[int64]string
	// members of trial mailboxes torn down by a failure, restored when the shared task comes back
	retained map[string]map[int64]*dto.User
}

func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps, log logger.Logger) *Orchestrator {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		retry:      NewRetryManager(cfg.Retry, log),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		entries:    make(map[string]*entry),
		userKeys:   make(map[int64]string),
		retained:   make(map[string]map[int64]*dto.User),
	}
	o.retry.setTarget(o)
	go o.retry.Run(baseCtx)
	return o
}

func userKey(userId int64) string {
	return fmt.Sprintf("user:%d", userId)
}

func customerKey(customerId int64) string {
	return fmt.Sprintf("customer:%d", customerId)
}

// StartAll starts a listener for every enabled user of the directory.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StartAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	users, err := o.deps.Directory.ListEnabledUsers(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return mailflowErrors.Connection(err, "failed to list enabled users")
	}
	span.SetTag("users", len(users))
	o.log.Infof("starting listeners for %d users", len(users))

	errs := apierrors.NewMultiErrors()
	for _, user := range users {
		if err := o.StartForUser(ctx, user, false); err != nil {
			errs.Add(userKey(user.Id), err.Error(), err)
			o.reportUnretried(ctx, user, err)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// reportUnretried reports start failures the retry manager never sees. Connection failures are
// reported when their retry is scheduled.
func (o *Orchestrator) reportUnretried(ctx context.Context, user *dto.User, err error) {
	if mailflowErrors.IsKind(err, mailflowErrors.KindConnection) {
		return
	}
	o.deps.Reporter.Report(utils.WithUser(ctx, user.Id, user.CustomerId), err)
}

// StartForUser validates the settings, honours the execution flag and registers at most one
// listener per key. It returns once the listener entered IDLE or failed to.
func (o *Orchestrator) StartForUser(ctx context.Context, user *dto.User, shouldDelayStart bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StartForUser")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if user == nil {
		return mailflowErrors.Validation(mailflowErrors.ErrMissingSettings, "user is missing")
	}
	tracing.TagUser(span, user.Id)

	if err := imap.ValidateSettings(user); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !user.Settings.ExecutionEnabled {
		o.log.Infof("[user:%d] execution disabled, not starting listener", user.Id)
		return nil
	}
	if o.isRegistered(user.Id) {
		o.log.Infof("[user:%d] listener already registered", user.Id)
		return nil
	}

	customer, err := o.deps.Directory.GetCustomer(ctx, user.CustomerId)
	if err != nil {
		err = mailflowErrors.Connection(err, "failed to resolve customer %d for user %d", user.CustomerId, user.Id)
		tracing.TraceErr(span, err)
		o.retry.HandleListenerFailure(user, err)
		return err
	}

	e, created := o.reserve(user, customer)
	if !created {
		if e != nil && e.trial {
			o.log.Infof("[user:%d] joined shared trial mailbox %s", user.Id, e.key)
			o.persist(ctx, user, e.key, enum.ConnectionActive, 0, nil)
		}
		return nil
	}
	span.SetTag("listener", e.key)
	o.persist(ctx, user, e.key, enum.ConnectionConnecting, o.retry.Attempts(user.Id), nil)

	var task *imap.ListenerTask
	task = imap.NewListenerTask(
		e.key,
		user,
		o.deps.Connector,
		o.deps.Handler,
		func() []*dto.User { return o.recipients(e) },
		func(err error) { o.taskFailed(e, task, err) },
		o.cfg.Listener,
		o.log,
	)
	o.mu.Lock()
	e.task = task
	o.mu.Unlock()

	task.Start(o.baseCtx, shouldDelayStart)

	if !task.HasEnteredWaitState(ctx) {
		task.Cancel()

		o.mu.Lock()
		owner := e.owner
		removed := o.removeLocked(e)
		if removed {
			o.retainLocked(e)
		}
		o.mu.Unlock()

		cause := task.Err()
		if cause == nil {
			cause = mailflowErrors.ErrConnectionTimeout
		}
		err = cause
		if !mailflowErrors.IsKind(cause, mailflowErrors.KindConnection) {
			err = mailflowErrors.Connection(cause, "listener for user %d did not enter IDLE", user.Id)
		}
		tracing.TraceErr(span, err)
		// a listener stopped while connecting is not retried
		if removed {
			o.retry.HandleListenerFailure(owner, err)
		}
		return err
	}

	o.retry.Reset(user.Id)
	o.mu.Lock()
	members := o.recipientsLocked(e)
	o.mu.Unlock()
	for _, member := range members {
		o.persist(ctx, member, e.key, enum.ConnectionActive, 0, nil)
	}
	o.log.Infof("[user:%d] listener %s started", user.Id, e.key)
	return nil
}

func (o *Orchestrator) isRegistered(userId int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.userKeys[userId]
	return ok
}

// reserve inserts the entry for the user's key if absent. A trial user joins an existing shared entry.
func (o *Orchestrator) reserve(user *dto.User, customer *dto.Customer) (*entry, bool) {
	trial := customer != nil && customer.IsTestVersion
	key := userKey(user.Id)
	if trial {
		key = customerKey(user.CustomerId)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.userKeys[user.Id]; ok {
		return nil, false
	}
	if existing, ok := o.entries[key]; ok {
		if existing.trial {
			existing.members[user.Id] = user
			o.userKeys[user.Id] = key
		}
		return existing, false
	}

	e := &entry{
		key:        key,
		owner:      user,
		customerId: user.CustomerId,
		trial:      trial,
		members:    map[int64]*dto.User{user.Id: user},
	}
	for id, member := range o.retained[key] {
		if _, registered := o.userKeys[id]; !registered {
			e.members[id] = member
		}
	}
	delete(o.retained, key)

	o.entries[key] = e
	for id := range e.members {
		o.userKeys[id] = key
	}
	return e, true
}

// removeLocked drops the entry and its members from the registry if it is still the registered one.
func (o *Orchestrator) removeLocked(e *entry) bool {
	if o.entries[e.key] != e {
		return false
	}
	delete(o.entries, e.key)
	for id := range e.members {
		if o.userKeys[id] == e.key {
			delete(o.userKeys, id)
		}
	}
	return true
}

// retainLocked keeps the members of a removed shared entry until its owner's restart brings them back.
func (o *Orchestrator) retainLocked(e *entry) {
	if !e.trial || len(e.members) < 2 {
		return
	}
	members := make(map[int64]*dto.User, len(e.members))
	for id, member := range e.members {
		members[id] = member
	}
	o.retained[e.key] = members
}

// taskFailed takes a listener that failed after IDLE out of the registry and hands the retry to the
// entry's current owner. Failures of a task that was already replaced or stopped are dropped.
func (o *Orchestrator) taskFailed(e *entry, task *imap.ListenerTask, err error) {
	o.mu.Lock()
	if e.task != task || !o.removeLocked(e) {
		o.mu.Unlock()
		o.log.Infof("%s ignoring failure of an unregistered listener: %v", e.key, err)
		return
	}
	owner := e.owner
	o.retainLocked(e)
	o.mu.Unlock()

	o.retry.HandleListenerFailure(owner, err)
}

func firstMember(members map[int64]*dto.User) *dto.User {
	var first *dto.User
	for id, member := range members {
		if first == nil || id < first.Id {
			first = member
		}
	}
	return first
}

func (o *Orchestrator) recipients(e *entry) []*dto.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recipientsLocked(e)
}

func (o *Orchestrator) recipientsLocked(e *entry) []*dto.User {
	users := make([]*dto.User, 0, len(e.members))
	for _, id := range e.memberIds() {
		users = append(users, e.members[id])
	}
	return users
}

// StopForUser disconnects the user's listener and waits for it to end. A trial member that is
// not the last one only leaves the shared mailbox.
func (o *Orchestrator) StopForUser(ctx context.Context, userId int64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StopForUser")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, userId)

	retryPending := o.retry.Pending(userId)
	o.retry.Cancel(userId)

	o.mu.Lock()
	key, ok := o.userKeys[userId]
	if !ok {
		// a shared mailbox waiting on this user's retry is restarted by another member
		var successor *dto.User
		for retainedKey, members := range o.retained {
			if _, member := members[userId]; !member {
				continue
			}
			delete(members, userId)
			if len(members) == 0 {
				delete(o.retained, retainedKey)
			} else if retryPending && successor == nil {
				successor = firstMember(members)
			}
		}
		o.mu.Unlock()
		if successor != nil {
			o.log.Infof("[user:%d] stopped while retrying, user %d restarts the shared mailbox", userId, successor.Id)
			go o.restart(o.baseCtx, successor)
		}
		return nil
	}
	e := o.entries[key]
	if e == nil {
		delete(o.userKeys, userId)
		o.mu.Unlock()
		return nil
	}
	member := e.members[userId]
	if e.trial && len(e.members) > 1 {
		delete(e.members, userId)
		delete(o.userKeys, userId)
		if e.owner.Id == userId {
			// the running connection keeps the old credentials until the next restart
			e.owner = firstMember(e.members)
			o.log.Infof("[user:%d] owner left shared mailbox %s, user %d took over", userId, key, e.owner.Id)
		}
		o.mu.Unlock()
		o.persist(ctx, member, key, enum.ConnectionStopped, 0, nil)
		return nil
	}
	o.removeLocked(e)
	o.mu.Unlock()

	err := o.stopTask(e)
	o.persist(ctx, member, key, enum.ConnectionStopped, 0, err)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	o.log.Infof("[user:%d] listener %s stopped", userId, key)
	return nil
}

func (o *Orchestrator) stopTask(e *entry) error {
	task := e.task
	if task == nil {
		return nil
	}
	if task.Ready() {
		if err := task.Disconnect(); err != nil {
			o.log.Warnf("%s disconnect failed: %v", e.key, err)
		}
	}
	task.Cancel()

	select {
	case <-task.Done():
		return nil
	case <-time.After(o.cfg.StopTimeout):
		return mailflowErrors.Termination(mailflowErrors.ErrTerminationTimeout,
			"listener %s did not stop within %s", e.key, o.cfg.StopTimeout)
	}
}

// RestartForUser stops the user's listener if registered and starts it again after the restart delay.
func (o *Orchestrator) RestartForUser(ctx context.Context, user *dto.User) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.RestartForUser")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, user.Id)

	errs := apierrors.NewMultiErrors()
	if err := o.StopForUser(ctx, user.Id); err != nil {
		errs.Add("stop", err.Error(), err)
	}
	if err := o.StartForUser(ctx, user, true); err != nil {
		errs.Add("start", err.Error(), err)
	}
	if errs.HasErrors() {
		tracing.TraceErr(span, errs)
		return errs
	}
	return nil
}

// OnTrialFlagCleared replaces the customer's shared listener with one listener per user.
func (o *Orchestrator) OnTrialFlagCleared(ctx context.Context, customerId int64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.OnTrialFlagCleared")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)

	key := customerKey(customerId)
	errs := apierrors.NewMultiErrors()

	var owner *dto.User
	o.mu.Lock()
	e := o.entries[key]
	if e != nil {
		o.removeLocked(e)
		owner = e.owner
	}
	delete(o.retained, key)
	o.mu.Unlock()

	if e != nil {
		o.retry.Cancel(owner.Id)
		if err := o.stopTask(e); err != nil {
			errs.Add(key, err.Error(), err)
		}
	}

	users, err := o.deps.Directory.ListUsersByCustomer(ctx, customerId)
	if err != nil {
		tracing.TraceErr(span, err)
		return mailflowErrors.Connection(err, "failed to list users of customer %d", customerId)
	}
	for _, user := range users {
		if err := o.StartForUser(ctx, user, true); err != nil {
			errs.Add(userKey(user.Id), err.Error(), err)
			o.reportUnretried(ctx, user, err)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (o *Orchestrator) Status() dto.OrchestratorStatus {
	o.mu.Lock()
	listeners := make([]dto.ListenerStatus, 0, len(o.entries))
	for _, e := range o.entries {
		status := dto.ListenerStatus{
			Key:         e.key,
			OwnerUserId: e.owner.Id,
			CustomerId:  e.customerId,
			Trial:       e.trial,
			MemberIds:   e.memberIds(),
		}
		if e.task != nil {
			status.Ready = e.task.Ready()
		}
		listeners = append(listeners, status)
	}
	o.mu.Unlock()

	sort.Slice(listeners, func(i, j int) bool { return listeners[i].Key < listeners[j].Key })
	for i := range listeners {
		listeners[i].PendingRetry = o.retry.Pending(listeners[i].OwnerUserId)
	}
	return dto.OrchestratorStatus{
		Listeners:      listeners,
		PendingRetries: o.retry.PendingUsers(),
	}
}

// ActiveUserIds lists every user with a ready listener, trial members included.
func (o *Orchestrator) ActiveUserIds() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ids []int64
	for _, e := range o.entries {
		if e.task == nil || !e.task.Ready() {
			continue
		}
		ids = append(ids, e.memberIds()...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StopAll stops the retry scheduler and every listener. Used on shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.retry.Stop()

	o.mu.Lock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.entries = make(map[string]*entry)
	o.userKeys = make(map[int64]string)
	o.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs = apierrors.NewMultiErrors()
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := o.stopTask(e); err != nil {
				emu.Lock()
				errs.Add(e.key, err.Error(), err)
				emu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	o.cancelBase()

	o.log.Infof("stopped %d listeners", len(entries))
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Cleanup drops cached configuration of a user that gave up.
func (o *Orchestrator) Cleanup(ctx context.Context, userId int64) {
	if o.deps.Cache != nil {
		o.deps.Cache.EvictUser(ctx, userId)
	}
}

func (o *Orchestrator) teardown(ctx context.Context, userId int64) {
	o.mu.Lock()
	key, ok := o.userKeys[userId]
	e := o.entries[key]
	// a running listener registered under the user is not the one that failed
	if !ok || e == nil || e.live() {
		o.mu.Unlock()
		return
	}
	o.removeLocked(e)
	o.retainLocked(e)
	o.mu.Unlock()

	if err := o.stopTask(e); err != nil {
		o.log.Warnf("[user:%d] teardown of %s: %v", userId, key, err)
	}
}

func (o *Orchestrator) restart(ctx context.Context, user *dto.User) {
	// failures are routed back to the retry manager by StartForUser
	if err := o.StartForUser(o.baseCtx, user, true); err != nil {
		o.reportUnretried(o.baseCtx, user, err)
	}
}

func (o *Orchestrator) retrying(ctx context.Context, user *dto.User, attempt int, cause error) {
	o.deps.Reporter.Report(utils.WithUser(ctx, user.Id, user.CustomerId), cause)
	o.persist(ctx, user, "", enum.ConnectionRetrying, attempt, cause)
}

func (o *Orchestrator) giveUp(ctx context.Context, user *dto.User, cause error) {
	ctx = utils.WithUser(ctx, user.Id, user.CustomerId)
	err := mailflowErrors.MaxRetries(cause, user.Id)
	o.deps.Reporter.Report(ctx, err)

	var stranded []*dto.User
	o.mu.Lock()
	for key, members := range o.retained {
		if _, ok := members[user.Id]; !ok {
			continue
		}
		delete(o.retained, key)
		for id, member := range members {
			if id != user.Id {
				stranded = append(stranded, member)
			}
		}
	}
	o.mu.Unlock()

	o.Cleanup(ctx, user.Id)
	o.persist(ctx, user, "", enum.ConnectionFailed, o.cfg.Retry.MaxRetries, err)
	for _, member := range stranded {
		o.Cleanup(ctx, member.Id)
		o.persist(ctx, member, "", enum.ConnectionFailed, 0, err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, user *dto.User, key string, status enum.ConnectionStatus, retryCount int, cause error) {
	if o.deps.States == nil || user == nil {
		return
	}
	state := &models.ListenerState{
		UserId:      user.Id,
		CustomerId:  user.CustomerId,
		ListenerKey: key,
		Status:      status,
		RetryCount:  retryCount,
	}
	if cause != nil {
		state.LastError = cause.Error()
	}
	if err := o.deps.States.UpdateStatus(ctx, state); err != nil {
		o.log.Warnf("[user:%d] failed to persist listener state %s: %v", user.Id, status, err)
	}
}
