package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("biller/billing")

// DefaultMaxRetries is the attempt budget used when none is configured
const DefaultMaxRetries = 3

// ProcessorConfig configures the retry behaviour of the payment state machine
type ProcessorConfig struct {
	// MaxRetries bounds the attempts of a single Process call. The same
	// bound applies separately to the conversion loop of each attempt.
	MaxRetries int
	// RetryBackoff is the minimum wait before retrying after a network error
	RetryBackoff time.Duration
	// RetryJitter adds a random [0, RetryJitter) to every backoff
	RetryJitter time.Duration
}

// DefaultProcessorConfig returns the default retry configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: 1 * time.Second,
		RetryJitter:  1 * time.Second,
	}
}

// Processor drives a single invoice from PENDING to PAID or FAILED
type Processor struct {
	payments   PaymentProvider
	currencies CurrencyProvider
	invoices   InvoiceStore
	customers  CustomerStore
	config     ProcessorConfig
	logger     logrus.FieldLogger
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
}

// ProcessorOption customises a Processor
type ProcessorOption func(*Processor)

// WithObserver reports engine events to o
func WithObserver(o Observer) ProcessorOption {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ProcessorOption {
	return func(p *Processor) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewProcessor creates a new payment state machine
func NewProcessor(
	payments PaymentProvider,
	currencies CurrencyProvider,
	invoices InvoiceStore,
	customers CustomerStore,
	config ProcessorConfig,
	logger logrus.FieldLogger,
	opts ...ProcessorOption,
) *Processor {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}
	if config.RetryJitter < 0 {
		config.RetryJitter = 0
	}
	if logger == nil {
		logger = logrus.New()
	}

	p := &Processor{
		payments:   payments,
		currencies: currencies,
		invoices:   invoices,
		customers:  customers,
		config:     config,
		logger:     logger,
		observer:   nopObserver{},
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective retry configuration
func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Process charges a PENDING invoice.
//
// Provider failures never escape Process: they end in a FAILED invoice and
// a non-charged action. Only an invoice that is not PENDING (ErrInvalidState),
// store errors and context cancellation are returned as errors.
func (p *Processor) Process(ctx context.Context, invoice Invoice) (InvoicePaymentAction, error) {
	ctx, span := tracer.Start(ctx, "billing.Process",
		trace.WithAttributes(
			attribute.Int64("invoice.id", invoice.ID),
			attribute.Int64("invoice.customer_id", invoice.CustomerID),
			attribute.String("invoice.currency", string(invoice.Amount.Currency)),
		),
	)
	defer span.End()

	action, err := p.process(ctx, invoice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoice processing failed")
		return action, err
	}
	span.SetAttributes(
		attribute.String("invoice.status", string(action.Invoice.Status)),
		attribute.Bool("invoice.charged", action.Charged),
	)
	return action, nil
}

func (p *Processor) process(ctx context.Context, invoice Invoice) (InvoicePaymentAction, error) {
	log := p.logger.WithField("invoice_id", invoice.ID)

	if invoice.Status != InvoiceStatusPending {
		return InvoicePaymentAction{}, InvalidStateError(invoice)
	}

	log.Info("Processing invoice")
	current, err := p.invoices.Transition(ctx, invoice.ID, InvoiceStatusPending, InvoiceStatusProcessing)
	if err != nil {
		return InvoicePaymentAction{}, fmt.Errorf("failed to mark invoice processing: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if attempt >= p.config.MaxRetries {
			log.WithField("attempts", attempt).Warn("Retry budget exhausted, giving up on invoice")
			return p.finish(ctx, current, InvoiceStatusFailed)
		}

		paid, err := p.payments.Charge(ctx, current)
		switch {
		case err == nil && paid:
			p.observer.ChargeAttempted("paid")
			log.Info("Charge successful")
			return p.finish(ctx, current, InvoiceStatusPaid)

		case err == nil:
			p.observer.ChargeAttempted("declined")
			log.Info("Charge declined")
			return p.finish(ctx, current, InvoiceStatusFailed)

		case errors.Is(err, ErrCustomerNotFound):
			p.observer.ChargeAttempted("customer_not_found")
			log.WithError(err).Warn("Customer not found by payment provider")
			return p.finish(ctx, current, InvoiceStatusFailed)

		case errors.Is(err, ErrCurrencyMismatch):
			p.observer.ChargeAttempted("currency_mismatch")
			p.observer.RetryScheduled("currency_mismatch")
			log.WithError(err).Warn("Currency mismatch, converting invoice amount")
			converted, terminal, err := p.convert(ctx, current)
			if err != nil {
				return InvoicePaymentAction{}, err
			}
			if terminal {
				return p.finish(ctx, current, InvoiceStatusFailed)
			}
			current = converted

		case errors.Is(err, ErrNetwork):
			p.observer.ChargeAttempted("network_error")
			p.observer.RetryScheduled("network_error")
			log.WithError(err).WithField("attempt", attempt).Warn("Network error while charging invoice")
			if attempt+1 < p.config.MaxRetries {
				if err := p.wait(ctx); err != nil {
					return InvoicePaymentAction{}, err
				}
			}

		default:
			p.observer.ChargeAttempted("error")
			log.WithError(err).Error("Unexpected payment provider error")
			return p.finish(ctx, current, InvoiceStatusFailed)
		}
	}
}

// convert resolves a currency mismatch by converting the invoice amount into
// the customer's currency. Network errors are retried up to MaxRetries times;
// after that the invoice is returned unchanged so the next charge attempt
// fails again and consumes the outer budget.
//
// terminal is true when the customer no longer exists and the invoice can
// never be charged.
func (p *Processor) convert(ctx context.Context, invoice Invoice) (converted Invoice, terminal bool, err error) {
	log := p.logger.WithFields(logrus.Fields{
		"invoice_id":  invoice.ID,
		"customer_id": invoice.CustomerID,
	})

	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		customer, err := p.customers.Fetch(ctx, invoice.CustomerID)
		if errors.Is(err, ErrNotFound) {
			log.WithError(err).Warn("Customer of invoice not found")
			return invoice, true, nil
		}
		if err != nil {
			return invoice, false, fmt.Errorf("failed to fetch customer: %w", err)
		}

		amount, err := p.currencies.Convert(ctx, invoice.Amount, customer.Currency)
		if err == nil {
			p.observer.ConversionAttempted("converted")
			log.WithFields(logrus.Fields{
				"from": invoice.Amount.String(),
				"to":   amount.String(),
			}).Info("Converted invoice amount")
			return invoice.WithAmount(amount), false, nil
		}

		if !errors.Is(err, ErrNetwork) {
			p.observer.ConversionAttempted("error")
			log.WithError(err).Error("Currency conversion failed")
			return invoice, false, nil
		}

		p.observer.ConversionAttempted("network_error")
		log.WithError(err).WithField("attempt", attempt).Warn("Network error while converting currency")
		if attempt+1 < p.config.MaxRetries {
			if err := p.wait(ctx); err != nil {
				return invoice, false, err
			}
		}
	}

	log.Warn("Giving up on currency conversion")
	return invoice, false, nil
}

func (p *Processor) finish(ctx context.Context, invoice Invoice, status InvoiceStatus) (InvoicePaymentAction, error) {
	updated, err := p.invoices.SetStatus(ctx, invoice.ID, status)
	if err != nil {
		return InvoicePaymentAction{}, fmt.Errorf("failed to mark invoice %s: %w", status, err)
	}

	charged := updated.Status == InvoiceStatusPaid
	p.observer.InvoiceProcessed(updated.Status, charged)
	return InvoicePaymentAction{Invoice: updated, Charged: charged}, nil
}

func (p *Processor) wait(ctx context.Context) error {
	return p.sleep(ctx, p.backoff())
}

func (p *Processor) backoff() time.Duration {
	d := p.config.RetryBackoff
	if p.config.RetryJitter > 0 {
		d += rand.N(p.config.RetryJitter)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
