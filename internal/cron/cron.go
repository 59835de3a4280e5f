package cron

import (
	"context"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/interfaces"
	cron_config "github.com/customeros/mailflow/internal/cron/config"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

const (
	// GroupListeners is the group for jobs touching listener state and caches
	GroupListeners = "listeners"
	// GroupArchive is the group for manual review archive jobs
	GroupArchive = "archive"

	LeaseName = "mailflow-cron-leader"
	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupListeners: new(sync.Mutex),
		GroupArchive:   new(sync.Mutex),
	},
}

// Jobs are the collaborators the scheduled jobs run against. Any of them may be nil.
type Jobs struct {
	Orchestrator interfaces.ListenerOrchestrator
	States       interfaces.ListenerStateRepository
	Cache        interfaces.MessageConfigCache
	Archive      interfaces.MessageArchive
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	jobIDs   map[string]cronv3.EntryID
	jobs     Jobs
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, jobs Jobs) *CronManager {
	return &CronManager{
		cfg:    cfg,
		log:    log,
		k8s:    k8s,
		stopCh: make(chan struct{}),
		jobIDs: make(map[string]cronv3.EntryID),
		jobs:   jobs,
	}
}

// Start runs the crons under a Lease so only one pod schedules them.
// Without a k8s client or in local development it starts right away.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || (cm.cfg != nil && cm.cfg.CronConfig != nil && cm.cfg.CronConfig.LocalDev) {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      LeaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm.cancel = cancel
	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.stopCron()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager and releases the lease
func (cm *CronManager) Stop() {
	cm.stopCron()
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *CronManager) stopCron() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule, group string, job func()) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		if group != "" {
			jobLocks.locks[group].Lock()
			defer jobLocks.locks[group].Unlock()
		}
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}
	cm.registerJobsWithConfig(c, cronConfig)
}

func (cm *CronManager) registerJobsWithConfig(c *cronv3.Cron, cronConfig cron_config.Config) {
	podName := "local"
	if cm.cfg != nil && cm.cfg.CronConfig != nil && cm.cfg.CronConfig.PodName != "" {
		podName = cm.cfg.CronConfig.PodName
	}
	cm.addJob(c, "heartbeat", cronConfig.CronScheduleHeartbeat, "", func() {
		cm.log.Infof("Cron heartbeat from pod: %s", podName)
	})

	if cm.jobs.States != nil && cm.jobs.Orchestrator != nil {
		cm.addJob(c, "listener_snapshot", cronConfig.CronScheduleListenerSnapshot, GroupListeners, cm.snapshotListenerStates)
	}
	if cm.jobs.Cache != nil {
		cm.addJob(c, "cache_flush", cronConfig.CronScheduleCacheFlush, GroupListeners, cm.flushCache)
	}
	if cm.jobs.Archive != nil {
		cm.addJob(c, "archive_purge", cronConfig.CronScheduleArchivePurge, GroupArchive, cm.purgeArchive)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// snapshotListenerStates marks rows ACTIVE in the database but without a ready listener as STOPPED.
func (cm *CronManager) snapshotListenerStates() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.snapshotListenerStates")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	active := cm.jobs.Orchestrator.ActiveUserIds()
	span.SetTag("active", len(active))

	updated, err := cm.jobs.States.MarkStaleActive(ctx, active)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to snapshot listener states: %v", err)
		return
	}
	if updated > 0 {
		cm.log.Infof("Marked %d stale listener states as stopped", updated)
	}
}

func (cm *CronManager) flushCache() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.flushCache")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cm.jobs.Cache.Flush(ctx)
	cm.log.Info("Flushed message config cache")
}

func (cm *CronManager) purgeArchive() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.purgeArchive")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	retentionDays := 30
	if cm.cfg != nil && cm.cfg.ArchiveConfig != nil && cm.cfg.ArchiveConfig.RetentionDays > 0 {
		retentionDays = cm.cfg.ArchiveConfig.RetentionDays
	}
	cutoff := utils.Now().AddDate(0, 0, -retentionDays)

	purged, err := cm.jobs.Archive.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to purge manual review archive: %v", err)
		return
	}
	span.SetTag("purged", purged)
	cm.log.Infof("Purged %d archived messages older than %s", purged, cutoff.Format(time.DateOnly))
}
