package storage

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/biller/pkg/billing"
)

// Demo data shape
const (
	DemoCustomers           = 100
	DemoInvoicesPerCustomer = 10
)

// DemoData generates customers billed in random currencies, each with
// DemoInvoicesPerCustomer invoices of which only the first is PENDING.
// Amounts are between 10.00 and 500.00 in the customer's currency.
func DemoData(rng *rand.Rand, customers int) ([]billing.Customer, []billing.Invoice) {
	if customers <= 0 {
		customers = DemoCustomers
	}

	outCustomers := make([]billing.Customer, 0, customers)
	outInvoices := make([]billing.Invoice, 0, customers*DemoInvoicesPerCustomer)

	var invoiceID int64
	for c := 1; c <= customers; c++ {
		customer := billing.Customer{
			ID:       int64(c),
			Currency: billing.Currencies[rng.IntN(len(billing.Currencies))],
		}
		outCustomers = append(outCustomers, customer)

		for i := 0; i < DemoInvoicesPerCustomer; i++ {
			invoiceID++
			status := billing.InvoiceStatusPaid
			if i == 0 {
				status = billing.InvoiceStatusPending
			}
			cents := 1000 + rng.Int64N(49001)
			outInvoices = append(outInvoices, billing.Invoice{
				ID:         invoiceID,
				CustomerID: customer.ID,
				Amount: billing.Money{
					Amount:   decimal.New(cents, -2),
					Currency: customer.Currency,
				},
				Status: status,
			})
		}
	}

	return outCustomers, outInvoices
}
