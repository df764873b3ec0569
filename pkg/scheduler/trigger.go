package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Trigger modes
const (
	// ModeGate fires every Period and runs only on the billing day
	ModeGate = "gate"
	// ModeCron fires on CronSpec
	ModeCron = "cron"
)

const billingJobName = "billing-run"

// TriggerConfig configures when billing runs happen
type TriggerConfig struct {
	Mode       string
	CronSpec   string
	Period     time.Duration
	BillingDay int
	// FirstFireAt defaults to the next midnight in the scheduler's location
	FirstFireAt time.Time
}

// DefaultTriggerConfig fires daily at midnight and bills on the 1st
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Mode:       ModeGate,
		CronSpec:   "0 0 1 * *",
		Period:     24 * time.Hour,
		BillingDay: 1,
	}
}

// Validate checks the trigger configuration
func (c TriggerConfig) Validate() error {
	switch c.Mode {
	case ModeGate:
		if c.Period <= 0 {
			return fmt.Errorf("period must be positive, got %v", c.Period)
		}
		if c.BillingDay < 1 || c.BillingDay > 28 {
			return fmt.Errorf("billing day must be between 1 and 28, got %d", c.BillingDay)
		}
	case ModeCron:
		if c.CronSpec == "" {
			return fmt.Errorf("cron spec is required in %s mode", ModeCron)
		}
	default:
		return fmt.Errorf("unknown trigger mode %q", c.Mode)
	}
	return nil
}

// BillingTrigger arms billing runs on a Scheduler
type BillingTrigger struct {
	scheduler *Scheduler
	config    TriggerConfig
}

// NewBillingTrigger creates a trigger that schedules on s
func NewBillingTrigger(s *Scheduler, config TriggerConfig) *BillingTrigger {
	return &BillingTrigger{scheduler: s, config: config}
}

// Arm schedules run according to the trigger configuration
func (t *BillingTrigger) Arm(run func(ctx context.Context) error) error {
	if err := t.config.Validate(); err != nil {
		return fmt.Errorf("invalid billing trigger: %w", err)
	}

	switch t.config.Mode {
	case ModeCron:
		_, err := t.scheduler.ScheduleCron(billingJobName, t.config.CronSpec, run)
		return err
	default:
		first := t.config.FirstFireAt
		if first.IsZero() {
			first = NextMidnight(t.scheduler.Now())
		}
		gated := MonthlyGate(t.scheduler.Now, t.config.BillingDay, run)
		_, err := t.scheduler.ScheduleRecurring(billingJobName, gated, first, t.config.Period)
		return err
	}
}
