// Package scheduler decides when billing runs happen.
//
// Scheduler wraps robfig/cron with two kinds of entries: fixed-period entries
// anchored at a first fire time (ScheduleRecurring) and cron expressions
// (ScheduleCron). Job panics are recovered and a fire is skipped while the
// previous run of the same entry is still going.
//
// BillingTrigger arms a billing run in one of two modes:
//
//	gate: fire every Period (daily) and run only when the day of month
//	      equals BillingDay, at most once per month
//	cron: fire on CronSpec, e.g. "0 0 1 * *"
//
// In both modes a month whose billing day is missed while the process is down
// is skipped.
//
//	sched := scheduler.New(logger, scheduler.WithLocation(time.UTC))
//	trigger := scheduler.NewBillingTrigger(sched, scheduler.DefaultTriggerConfig())
//	service := billing.NewService(processor, invoices, logger, billing.WithRecurringTrigger(trigger))
//	service.StartRecurring(ctx)
//	sched.Start()
//	defer sched.Stop(ctx)
package scheduler
