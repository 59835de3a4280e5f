package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Listener state snapshot, every 5 minutes
	CronScheduleListenerSnapshot string `env:"CRON_SCHEDULE_LISTENER_SNAPSHOT" envDefault:"0 */5 * * * *"`
	// Message config cache flush, every hour
	CronScheduleCacheFlush string `env:"CRON_SCHEDULE_CACHE_FLUSH" envDefault:"0 0 * * * *"`
	// Manual review archive purge, daily at 03:30
	CronScheduleArchivePurge string `env:"CRON_SCHEDULE_ARCHIVE_PURGE" envDefault:"0 30 3 * * *"`
}
