package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platinummonkey/biller/pkg/billing"
)

// OTelMetrics mirrors the engine metrics as OpenTelemetry instruments so
// they are exported through the OTLP pipeline alongside traces.
type OTelMetrics struct {
	chargeAttempts     metric.Int64Counter
	conversionAttempts metric.Int64Counter
	invoicesProcessed  metric.Int64Counter
	retries            metric.Int64Counter
	runDuration        metric.Float64Histogram
}

var (
	_ billing.Observer = (*OTelMetrics)(nil)
	_ billing.Reporter = (*OTelMetrics)(nil)
)

// NewOTelMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter("github.com/platinummonkey/biller")
	}

	m := &OTelMetrics{}
	var err error

	m.chargeAttempts, err = meter.Int64Counter(
		"billing.charge.attempts",
		metric.WithDescription("Payment provider charge attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create charge attempts counter: %w", err)
	}

	m.conversionAttempts, err = meter.Int64Counter(
		"billing.conversion.attempts",
		metric.WithDescription("Currency conversion attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion attempts counter: %w", err)
	}

	m.invoicesProcessed, err = meter.Int64Counter(
		"billing.invoices.processed",
		metric.WithDescription("Invoices that reached a final status"),
		metric.WithUnit("{invoice}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoices processed counter: %w", err)
	}

	m.retries, err = meter.Int64Counter(
		"billing.retries",
		metric.WithDescription("Charge retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"billing.run.duration",
		metric.WithDescription("Billing run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	return m, nil
}

// ChargeAttempted implements billing.Observer
func (m *OTelMetrics) ChargeAttempted(outcome string) {
	m.chargeAttempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ConversionAttempted implements billing.Observer
func (m *OTelMetrics) ConversionAttempted(outcome string) {
	m.conversionAttempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// InvoiceProcessed implements billing.Observer
func (m *OTelMetrics) InvoiceProcessed(status billing.InvoiceStatus, charged bool) {
	m.invoicesProcessed.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.Bool("charged", charged),
		))
}

// RetryScheduled implements billing.Observer
func (m *OTelMetrics) RetryScheduled(reason string) {
	m.retries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// ReportRun implements billing.Reporter
func (m *OTelMetrics) ReportRun(ctx context.Context, report *billing.RunReport) error {
	m.runDuration.Record(ctx, report.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("trigger", report.Trigger)))
	return nil
}

// Observers fans engine events out to several observers
func Observers(observers ...billing.Observer) billing.Observer {
	return multiObserver(observers)
}

type multiObserver []billing.Observer

func (m multiObserver) ChargeAttempted(outcome string) {
	for _, o := range m {
		o.ChargeAttempted(outcome)
	}
}

func (m multiObserver) ConversionAttempted(outcome string) {
	for _, o := range m {
		o.ConversionAttempted(outcome)
	}
}

func (m multiObserver) InvoiceProcessed(status billing.InvoiceStatus, charged bool) {
	for _, o := range m {
		o.InvoiceProcessed(status, charged)
	}
}

func (m multiObserver) RetryScheduled(reason string) {
	for _, o := range m {
		o.RetryScheduled(reason)
	}
}
