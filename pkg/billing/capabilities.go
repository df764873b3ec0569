package billing

import "context"

// PaymentProvider charges invoices against an external payment service.
//
// Charge returns true when the customer account was successfully charged
// and false on an explicit decline. Failures wrap ErrCustomerNotFound,
// ErrCurrencyMismatch or ErrNetwork.
type PaymentProvider interface {
	Charge(ctx context.Context, invoice Invoice) (bool, error)
}

// CurrencyProvider converts money between currencies.
// Failures wrap ErrNetwork.
type CurrencyProvider interface {
	Convert(ctx context.Context, from Money, to Currency) (Money, error)
}

// InvoiceStore persists invoices and mediates every status transition
type InvoiceStore interface {
	Fetch(ctx context.Context, id int64) (Invoice, error)
	FetchAll(ctx context.Context) ([]Invoice, error)
	FetchAllByStatus(ctx context.Context, status InvoiceStatus) ([]Invoice, error)
	// SetStatus atomically updates the status and returns the stored invoice
	SetStatus(ctx context.Context, id int64, status InvoiceStatus) (Invoice, error)
	// Transition sets the status to `to` only if it currently is `from`.
	// Otherwise it fails with ErrInvalidState and leaves the invoice unchanged.
	Transition(ctx context.Context, id int64, from, to InvoiceStatus) (Invoice, error)
}

// CustomerStore provides read access to customers
type CustomerStore interface {
	Fetch(ctx context.Context, id int64) (Customer, error)
	FetchAll(ctx context.Context) ([]Customer, error)
}

// Reporter receives the summary of every completed billing run
type Reporter interface {
	ReportRun(ctx context.Context, report *RunReport) error
}

// ReporterFunc adapts a function to the Reporter interface
type ReporterFunc func(ctx context.Context, report *RunReport) error

// ReportRun calls f(ctx, report)
func (f ReporterFunc) ReportRun(ctx context.Context, report *RunReport) error {
	return f(ctx, report)
}

// Observer receives fine-grained engine events, typically for metrics
type Observer interface {
	ChargeAttempted(outcome string)
	ConversionAttempted(outcome string)
	InvoiceProcessed(status InvoiceStatus, charged bool)
	RetryScheduled(reason string)
}

type nopObserver struct{}

func (nopObserver) ChargeAttempted(string)               {}
func (nopObserver) ConversionAttempted(string)           {}
func (nopObserver) InvoiceProcessed(InvoiceStatus, bool) {}
func (nopObserver) RetryScheduled(string)                {}
