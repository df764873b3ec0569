package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMonthlyGate(t *testing.T) {
	clock := &fakeClock{}
	runs := 0
	gated := MonthlyGate(clock.Now, 1, func(ctx context.Context) error {
		runs++
		return nil
	})

	days := []struct {
		at       time.Time
		wantRuns int
	}{
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 1},
		// second fire on the same day does not bill twice
		{time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 2},
		// same day of month in another year is a new month
		{time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 3},
	}

	for _, d := range days {
		clock.now = d.at
		require.NoError(t, gated(context.Background()))
		assert.Equal(t, d.wantRuns, runs, "at %s", d.at)
	}
}

func TestMonthlyGate_MissedDayIsNotCaughtUp(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)}
	runs := 0
	gated := MonthlyGate(clock.Now, 1, func(ctx context.Context) error {
		runs++
		return nil
	})

	for day := 2; day <= 30; day++ {
		clock.now = time.Date(2024, 4, day, 0, 0, 0, 0, time.UTC)
		require.NoError(t, gated(context.Background()))
	}
	assert.Zero(t, runs)
}

func TestMonthlyGate_PropagatesJobError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	gated := MonthlyGate(clock.Now, 1, func(ctx context.Context) error {
		return errors.New("store unavailable")
	})

	assert.Error(t, gated(context.Background()))
	// the month is consumed even when the run failed
	assert.NoError(t, gated(context.Background()))
}

func TestNextMidnight(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC), time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 12, 31, 23, 59, 0, 0, cet), time.Date(2025, 1, 1, 0, 0, 0, 0, cet)},
		{time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextMidnight(tt.in))
	}
}

func TestTriggerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TriggerConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*TriggerConfig) {}},
		{name: "cron mode", mutate: func(c *TriggerConfig) { c.Mode = ModeCron }},
		{name: "cron mode without spec", mutate: func(c *TriggerConfig) { c.Mode = ModeCron; c.CronSpec = "" }, wantErr: true},
		{name: "zero period", mutate: func(c *TriggerConfig) { c.Period = 0 }, wantErr: true},
		{name: "billing day 0", mutate: func(c *TriggerConfig) { c.BillingDay = 0 }, wantErr: true},
		{name: "billing day 31", mutate: func(c *TriggerConfig) { c.BillingDay = 31 }, wantErr: true},
		{name: "unknown mode", mutate: func(c *TriggerConfig) { c.Mode = "hourly" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTriggerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBillingTrigger_GateModeRunsOnBillingDay(t *testing.T) {
	logger, _ := test.NewNullLogger()
	billingDay := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := New(logger, WithLocation(time.UTC), WithClock(func() time.Time { return billingDay }))

	cfg := DefaultTriggerConfig()
	cfg.Period = 20 * time.Millisecond
	cfg.FirstFireAt = time.Now().Add(-time.Second)

	runs := make(chan struct{}, 10)
	trigger := NewBillingTrigger(s, cfg)
	require.NoError(t, trigger.Arm(func(ctx context.Context) error {
		runs <- struct{}{}
		return nil
	}))

	s.Start()

	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("billing run did not fire")
	}

	// further fires on the same day are gated
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Len(t, runs, 0)
}

func TestBillingTrigger_GateModeSkipsOtherDays(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(logger, WithLocation(time.UTC), WithClock(func() time.Time {
		return time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)
	}))

	cfg := DefaultTriggerConfig()
	cfg.Period = 20 * time.Millisecond
	cfg.FirstFireAt = time.Now()

	runs := 0
	require.NoError(t, NewBillingTrigger(s, cfg).Arm(func(ctx context.Context) error {
		runs++
		return nil
	}))

	s.Start()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Zero(t, runs)
}

func TestBillingTrigger_CronMode(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(logger, WithLocation(time.UTC))

	cfg := DefaultTriggerConfig()
	cfg.Mode = ModeCron
	require.NoError(t, NewBillingTrigger(s, cfg).Arm(func(ctx context.Context) error { return nil }))

	cfg.CronSpec = "61 * * * *"
	assert.Error(t, NewBillingTrigger(s, cfg).Arm(func(ctx context.Context) error { return nil }))
}

func TestBillingTrigger_RejectsInvalidConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultTriggerConfig()
	cfg.BillingDay = 40

	err := NewBillingTrigger(New(logger), cfg).Arm(func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}
