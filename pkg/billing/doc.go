// Package billing charges outstanding invoices through a payment provider.
//
// # Overview
//
// The package contains the billing engine: the invoice payment state machine
// (Processor) and the billing run orchestrator (Service). Persistence, payment
// and currency conversion are capabilities injected through interfaces.
//
// # Invoice Lifecycle
//
//	PENDING -> PROCESSING -> PAID
//	                      -> FAILED
//
// PENDING -> PROCESSING is a compare-and-set through InvoiceStore.Transition,
// so an invoice paid after a run took its snapshot is not charged twice.
// The final status is written with InvoiceStore.SetStatus. PAID and FAILED are
// terminal for the engine; a FAILED invoice is never picked up again by a
// billing run.
//
// # Failure Handling
//
// Provider failures are classified with errors.Is:
//
//   - ErrCustomerNotFound: invoice marked FAILED, no retry
//   - ErrCurrencyMismatch: amount converted to the customer's currency, then retried
//   - ErrNetwork: retried after a backoff
//
// All retries of one invoice share a budget of MaxRetries attempts. The
// conversion step has its own loop bounded by the same value, so the worst
// case is MaxRetries^2 conversion calls per invoice.
//
// # Usage Example
//
//	processor := billing.NewProcessor(payments, currencies, invoices, customers,
//		billing.DefaultProcessorConfig(), logger)
//	service := billing.NewService(processor, invoices, logger)
//
//	report, err := service.RunBillingCycle(ctx)
//	fmt.Printf("charged %d of %d invoices\n", report.Succeeded, report.Total)
//
// # Related Packages
//
//   - pkg/scheduler: Recurring billing trigger
//   - pkg/storage: Invoice and customer stores
//   - pkg/external: Simulated payment and currency providers
package billing
