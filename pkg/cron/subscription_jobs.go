package cron

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"crate_backend/pkg/config"
)

const (
	// registrations idle for this long are considered stalled
	stalledAfter = 5 * time.Minute
	sweepBatch   = 50
	jobTimeout   = 2 * time.Minute
)

// SubscriptionJobs is the part of the subscription service the scheduler drives.
type SubscriptionJobs interface {
	ResumeStalled(ctx context.Context, idle time.Duration, limit int) (int, error)
	SendChargeReminders(ctx context.Context, daysAhead int) (int, error)
}

// InitSubscriptionCron schedules the registration sweeper and the upcoming
// charge reminder. The returned scheduler is already running.
func InitSubscriptionCron(cfg config.CronConfig, jobs SubscriptionJobs) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.RegistrationSweep, func() {
		resumeStalledRegistrations(jobs)
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(cfg.ChargeReminder, func() {
		sendChargeReminders(jobs, cfg.ReminderDays)
	}); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

func resumeStalledRegistrations(jobs SubscriptionJobs) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := jobs.ResumeStalled(ctx, stalledAfter, sweepBatch)
	if err != nil {
		log.Errorf("Error resuming stalled registrations: %v", err)
		return
	}
	if n > 0 {
		log.Infof("Resumed %d stalled subscription registrations", n)
	}
}

func sendChargeReminders(jobs SubscriptionJobs, days int) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := jobs.SendChargeReminders(ctx, days)
	if err != nil {
		log.Errorf("Error sending charge reminders: %v", err)
		return
	}
	log.Infof("Found %d subscriptions charging in %d days", n, days)
}
