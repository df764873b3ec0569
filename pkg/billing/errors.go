package billing

import (
	"errors"
	"fmt"
)

// Store errors
var (
	// ErrNotFound is returned by stores when an invoice or customer does not exist
	ErrNotFound = errors.New("billing: not found")
)

// Engine errors
var (
	// ErrInvalidState is returned when an invoice is not PENDING at processing time
	ErrInvalidState = errors.New("billing: invoice not in pending state")
	// ErrInvoiceBusy is returned when the same invoice is already being processed
	ErrInvoiceBusy = errors.New("billing: invoice is already being processed")
	// ErrRunInProgress is returned when a billing run is requested while another is running
	ErrRunInProgress = errors.New("billing: billing run already in progress")
)

// Provider errors. Payment and currency providers wrap these so the
// engine can classify failures with errors.Is.
var (
	ErrCustomerNotFound = errors.New("billing: customer not found by payment provider")
	ErrCurrencyMismatch = errors.New("billing: currency mismatch")
	ErrNetwork          = errors.New("billing: network error")
)

// InvoiceNotFoundError wraps ErrNotFound for an invoice id
func InvoiceNotFoundError(id int64) error {
	return fmt.Errorf("invoice '%d': %w", id, ErrNotFound)
}

// CustomerNotFoundError wraps ErrNotFound for a customer id
func CustomerNotFoundError(id int64) error {
	return fmt.Errorf("customer '%d': %w", id, ErrNotFound)
}

// InvalidStateError wraps ErrInvalidState for an invoice found in the wrong status
func InvalidStateError(inv Invoice) error {
	return fmt.Errorf("invoice '%d' is %s: %w", inv.ID, inv.Status, ErrInvalidState)
}
