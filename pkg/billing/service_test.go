package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(f *processorFixture, opts ...ServiceOption) *Service {
	logger, _ := test.NewNullLogger()
	return NewService(f.processor(3), f.invoices, logger, opts...)
}

func TestRunBillingCycle_ProcessesPendingSnapshot(t *testing.T) {
	f := newProcessorFixture(
		pendingInvoice(1, 1, "10", CurrencyEUR),
		pendingInvoice(2, 2, "20", CurrencyEUR),
		pendingInvoice(3, 3, "30", CurrencyEUR).WithStatus(InvoiceStatusPaid),
		pendingInvoice(4, 4, "40", CurrencyEUR).WithStatus(InvoiceStatusFailed),
		pendingInvoice(5, 5, "50", CurrencyEUR),
	)
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		return inv.ID != 2, nil
	}

	svc := newTestService(f)
	report, err := svc.RunBillingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Errored)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, TriggerManual, report.Trigger)

	assert.Equal(t, InvoiceStatusPaid, f.invoices.status(1))
	assert.Equal(t, InvoiceStatusFailed, f.invoices.status(2))
	assert.Equal(t, InvoiceStatusPaid, f.invoices.status(5))
	// FAILED invoices are never picked up again
	assert.Empty(t, f.invoices.history(4))
	assert.Empty(t, f.invoices.history(3))
}

func TestRunBillingCycle_ContinuesAfterInvoiceError(t *testing.T) {
	f := newProcessorFixture(
		pendingInvoice(1, 1, "10", CurrencyEUR),
		pendingInvoice(2, 2, "20", CurrencyEUR),
		pendingInvoice(3, 3, "30", CurrencyEUR),
	)
	f.invoices.setStatusFunc = func(ctx context.Context, id int64, status InvoiceStatus) error {
		if id == 1 {
			return errors.New("row locked")
		}
		return nil
	}

	svc := newTestService(f)
	report, err := svc.RunBillingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 2, f.payments.chargeCount())

	require.Len(t, report.Results, 3)
	assert.Equal(t, int64(1), report.Results[0].InvoiceID)
	assert.Contains(t, report.Results[0].Error, "row locked")
	assert.Equal(t, InvoiceStatusPaid, report.Results[1].Status)
	assert.Equal(t, InvoiceStatusPaid, report.Results[2].Status)
}

func TestRunBillingCycle_RecoversPanic(t *testing.T) {
	f := newProcessorFixture(
		pendingInvoice(1, 1, "10", CurrencyEUR),
		pendingInvoice(2, 2, "20", CurrencyEUR),
	)
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		if inv.ID == 1 {
			panic("provider bug")
		}
		return true, nil
	}

	svc := newTestService(f)
	report, err := svc.RunBillingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Errored)
	assert.Contains(t, report.Results[0].Error, "provider bug")
	assert.Equal(t, InvoiceStatusPaid, f.invoices.status(2))

	// the in-flight guard for the panicking invoice is released
	_, ok := svc.inflight[1]
	assert.False(t, ok)
}

func TestRunBillingCycle_FetchError(t *testing.T) {
	f := newProcessorFixture()
	f.invoices.fetchAllErr = errors.New("database is down")

	svc := newTestService(f)
	report, err := svc.RunBillingCycle(context.Background())

	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "failed to fetch pending invoices")

	// the run flag is released so the next run can proceed
	f.invoices.fetchAllErr = nil
	_, err = svc.RunBillingCycle(context.Background())
	assert.NoError(t, err)
}

func TestRunBillingCycle_RejectsOverlappingRuns(t *testing.T) {
	f := newProcessorFixture(pendingInvoice(1, 1, "10", CurrencyEUR))

	started := make(chan struct{})
	release := make(chan struct{})
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		close(started)
		<-release
		return true, nil
	}

	svc := newTestService(f)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunBillingCycle(context.Background())
		done <- err
	}()

	<-started
	_, err := svc.RunBillingCycle(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunBillingCycle_Concurrent(t *testing.T) {
	var invoices []Invoice
	for i := int64(1); i <= 20; i++ {
		invoices = append(invoices, pendingInvoice(i, i, "10", CurrencyEUR))
	}
	f := newProcessorFixture(invoices...)

	var active, peak int32
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return inv.ID%2 == 0, nil
	}

	svc := newTestService(f, WithConcurrency(4))
	report, err := svc.RunBillingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 20, report.Total)
	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, 10, report.Failed)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))

	for i := int64(1); i <= 20; i++ {
		assert.Len(t, f.invoices.history(i), 2, "invoice %d", i)
		assert.Equal(t, i, report.Results[i-1].InvoiceID)
	}
}

func TestRunBillingCycle_DeliversReports(t *testing.T) {
	f := newProcessorFixture(pendingInvoice(1, 1, "10", CurrencyEUR))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return start.Add(time.Duration(tick-1) * 2 * time.Second)
	}

	var got []*RunReport
	first := ReporterFunc(func(ctx context.Context, report *RunReport) error {
		return errors.New("archive unavailable")
	})
	second := ReporterFunc(func(ctx context.Context, report *RunReport) error {
		got = append(got, report)
		return nil
	})

	svc := newTestService(f, WithReporters(first, second), WithClock(clock))
	report, err := svc.RunBillingCycle(WithTrigger(context.Background(), TriggerScheduled))

	require.NoError(t, err)
	require.Len(t, got, 1, "a failing reporter must not block later reporters")
	assert.Same(t, report, got[0])
	assert.Equal(t, TriggerScheduled, report.Trigger)
	assert.Equal(t, start, report.StartedAt)
	assert.Equal(t, 2*time.Second, report.Elapsed)
}

func TestProcessInvoice(t *testing.T) {
	f := newProcessorFixture(
		pendingInvoice(1, 1, "10", CurrencyEUR),
		pendingInvoice(2, 2, "10", CurrencyEUR).WithStatus(InvoiceStatusPaid),
	)
	svc := newTestService(f)

	t.Run("pending invoice is charged", func(t *testing.T) {
		action, err := svc.ProcessInvoice(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, action.Charged)
	})

	t.Run("paid invoice is rejected", func(t *testing.T) {
		_, err := svc.ProcessInvoice(context.Background(), 2)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("missing invoice", func(t *testing.T) {
		_, err := svc.ProcessInvoice(context.Background(), 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestProcessInvoice_RejectsConcurrentCallsForSameInvoice(t *testing.T) {
	f := newProcessorFixture(pendingInvoice(1, 1, "10", CurrencyEUR))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		once.Do(func() { close(started) })
		<-release
		return true, nil
	}

	svc := newTestService(f)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ProcessInvoice(context.Background(), 1)
		done <- err
	}()

	<-started
	_, err := svc.ProcessInvoice(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInvoiceBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.payments.chargeCount())
}

func TestRunBillingCycle_SkipsInvoicePaidAfterSnapshot(t *testing.T) {
	f := newProcessorFixture(
		pendingInvoice(1, 1, "10", CurrencyEUR),
		pendingInvoice(2, 2, "20", CurrencyEUR),
	)
	svc := newTestService(f)

	var manual error
	f.payments.chargeFunc = func(ctx context.Context, inv Invoice) (bool, error) {
		if inv.ID == 1 {
			_, manual = svc.ProcessInvoice(ctx, 2)
		}
		return true, nil
	}

	report, err := svc.RunBillingCycle(context.Background())

	require.NoError(t, err)
	require.NoError(t, manual)
	assert.Equal(t, InvoiceStatusPaid, f.invoices.status(2))
	assert.Equal(t, []InvoiceStatus{InvoiceStatusProcessing, InvoiceStatusPaid}, f.invoices.history(2))

	charges := 0
	for _, inv := range f.payments.charged {
		if inv.ID == 2 {
			charges++
		}
	}
	assert.Equal(t, 1, charges, "invoice 2 must be charged exactly once")

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Errored)
	assert.Contains(t, report.Results[1].Error, ErrInvalidState.Error())
}

type recordingTrigger struct {
	run func(ctx context.Context) error
	err error
}

func (r *recordingTrigger) Arm(run func(ctx context.Context) error) error {
	r.run = run
	return r.err
}

func TestStartRecurring(t *testing.T) {
	f := newProcessorFixture(pendingInvoice(1, 1, "10", CurrencyEUR))

	var reports []*RunReport
	trigger := &recordingTrigger{}
	svc := newTestService(f,
		WithRecurringTrigger(trigger),
		WithReporters(ReporterFunc(func(ctx context.Context, report *RunReport) error {
			reports = append(reports, report)
			return nil
		})),
	)

	require.NoError(t, svc.StartRecurring(context.Background()))
	require.NotNil(t, trigger.run)

	require.NoError(t, trigger.run(context.Background()))
	require.Len(t, reports, 1)
	assert.Equal(t, TriggerScheduled, reports[0].Trigger)
	assert.Equal(t, InvoiceStatusPaid, f.invoices.status(1))
}

func TestStartRecurring_WithoutTrigger(t *testing.T) {
	svc := newTestService(newProcessorFixture())
	assert.Error(t, svc.StartRecurring(context.Background()))
}

func TestTriggerFromContext(t *testing.T) {
	assert.Equal(t, TriggerManual, TriggerFromContext(context.Background()))
	assert.Equal(t, "api", TriggerFromContext(WithTrigger(context.Background(), "api")))
}
