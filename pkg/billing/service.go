package billing

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/biller/pkg/contextkeys"
)

// Trigger labels recorded on run reports
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// WithTrigger records what started a billing run
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, contextkeys.TriggerKey, trigger)
}

// TriggerFromContext returns the trigger stored by WithTrigger
func TriggerFromContext(ctx context.Context) string {
	if trigger, ok := ctx.Value(contextkeys.TriggerKey).(string); ok {
		return trigger
	}
	return TriggerManual
}

// RecurringTrigger arms a recurring call of run
type RecurringTrigger interface {
	Arm(run func(ctx context.Context) error) error
}

// Service orchestrates billing runs over all pending invoices
type Service struct {
	processor   *Processor
	invoices    InvoiceStore
	logger      logrus.FieldLogger
	reporters   []Reporter
	trigger     RecurringTrigger
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	inflight map[int64]struct{}
}

// ServiceOption customises a Service
type ServiceOption func(*Service)

// WithReporters delivers every run report to the given reporters
func WithReporters(reporters ...Reporter) ServiceOption {
	return func(s *Service) {
		s.reporters = append(s.reporters, reporters...)
	}
}

// WithConcurrency processes up to n invoices of a run in parallel.
// n <= 1 keeps invoices strictly sequential.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) {
		s.concurrency = n
	}
}

// WithRecurringTrigger sets the trigger armed by StartRecurring
func WithRecurringTrigger(t RecurringTrigger) ServiceOption {
	return func(s *Service) {
		s.trigger = t
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new billing service
func NewService(processor *Processor, invoices InvoiceStore, logger logrus.FieldLogger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		processor:   processor,
		invoices:    invoices,
		logger:      logger,
		concurrency: 1,
		now:         time.Now,
		inflight:    make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRecurring arms the configured trigger to run billing cycles
func (s *Service) StartRecurring(ctx context.Context) error {
	if s.trigger == nil {
		return fmt.Errorf("no recurring trigger configured")
	}
	s.logger.Info("Arming recurring billing trigger")
	return s.trigger.Arm(func(runCtx context.Context) error {
		_, err := s.RunBillingCycle(WithTrigger(runCtx, TriggerScheduled))
		return err
	})
}

// ProcessInvoice fetches and processes a single invoice by id
func (s *Service) ProcessInvoice(ctx context.Context, id int64) (InvoicePaymentAction, error) {
	if !s.acquire(id) {
		return InvoicePaymentAction{}, fmt.Errorf("invoice '%d': %w", id, ErrInvoiceBusy)
	}
	defer s.release(id)

	invoice, err := s.invoices.Fetch(ctx, id)
	if err != nil {
		return InvoicePaymentAction{}, err
	}
	return s.processor.Process(ctx, invoice)
}

// RunBillingCycle processes every invoice that is PENDING when the run
// starts. A failing invoice never stops the run.
func (s *Service) RunBillingCycle(ctx context.Context) (*RunReport, error) {
	if !s.beginRun() {
		return nil, ErrRunInProgress
	}
	defer s.endRun()

	report := &RunReport{
		RunID:     uuid.NewString(),
		Trigger:   TriggerFromContext(ctx),
		StartedAt: s.now(),
	}
	log := s.logger.WithFields(logrus.Fields{
		"run_id":  report.RunID,
		"trigger": report.Trigger,
	})

	ctx, span := tracer.Start(ctx, "billing.RunBillingCycle",
		trace.WithAttributes(
			attribute.String("billing.run_id", report.RunID),
			attribute.String("billing.trigger", report.Trigger),
		),
	)
	defer span.End()

	log.Info("Starting to process invoices")

	pending, err := s.invoices.FetchAllByStatus(ctx, InvoiceStatusPending)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch pending invoices: %w", err)
	}

	report.Results = make([]RunResult, len(pending))
	if s.concurrency <= 1 {
		for i, invoice := range pending {
			report.Results[i] = s.processOne(ctx, invoice, log)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, invoice := range pending {
			g.Go(func() error {
				report.Results[i] = s.processOne(ctx, invoice, log)
				return nil
			})
		}
		_ = g.Wait()
	}

	report.FinishedAt = s.now()
	report.Elapsed = report.FinishedAt.Sub(report.StartedAt)
	report.Total = len(pending)
	for _, result := range report.Results {
		if result.Charged {
			report.Succeeded++
			continue
		}
		report.Failed++
		if result.Error != "" {
			report.Errored++
		}
	}

	span.SetAttributes(
		attribute.Int("billing.total", report.Total),
		attribute.Int("billing.succeeded", report.Succeeded),
		attribute.Int("billing.failed", report.Failed),
	)

	log.Infof("Finished processing %d invoices in %v", report.Total, report.Elapsed)
	log.Infof("Successfully processed %d invoices", report.Succeeded)
	log.Infof("Failed processing %d invoices", report.Failed)

	for _, reporter := range s.reporters {
		if err := reporter.ReportRun(ctx, report); err != nil {
			log.WithError(err).Warn("Failed to deliver billing run report")
		}
	}

	return report, nil
}

func (s *Service) processOne(ctx context.Context, invoice Invoice, log logrus.FieldLogger) (result RunResult) {
	result = RunResult{InvoiceID: invoice.ID}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"invoice_id": invoice.ID,
				"panic":      r,
				"stack":      string(debug.Stack()),
			}).Error("PANIC recovered while processing invoice")
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if !s.acquire(invoice.ID) {
		result.Status = invoice.Status
		result.Error = fmt.Errorf("invoice '%d': %w", invoice.ID, ErrInvoiceBusy).Error()
		return result
	}
	defer s.release(invoice.ID)

	action, err := s.processor.Process(ctx, invoice)
	if err != nil {
		log.WithError(err).WithField("invoice_id", invoice.ID).Error("Failed to process invoice")
		result.Status = invoice.Status
		result.Error = err.Error()
		return result
	}

	result.Status = action.Invoice.Status
	result.Charged = action.Charged
	return result
}

func (s *Service) acquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Service) beginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) endRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
