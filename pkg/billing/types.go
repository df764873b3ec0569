package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code supported by the billing engine
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyDKK Currency = "DKK"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencySEK Currency = "SEK"
)

// Currencies lists every supported currency
var Currencies = []Currency{CurrencyEUR, CurrencyDKK, CurrencyUSD, CurrencyGBP, CurrencySEK}

// Valid reports whether c is one of the supported currencies
func (c Currency) Valid() bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCurrency parses a currency code case-insensitively
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

// Money is an exact decimal amount in a single currency
type Money struct {
	Amount   decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

// NewMoney creates a Money value from a decimal string such as "100.50"
func NewMoney(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is like NewMoney but panics on a malformed amount.
// Intended for constants and tests.
func MustMoney(amount string, currency Currency) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Compatible reports whether m can be charged against an account in other's currency
func (m Money) Compatible(other Currency) bool {
	return m.Currency == other
}

// Equal compares amount and currency
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + string(m.Currency)
}

// Customer is a billable account. Customers are owned by the customer store.
type Customer struct {
	ID       int64    `json:"id"`
	Currency Currency `json:"currency"`
}

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "PENDING"
	InvoiceStatusProcessing InvoiceStatus = "PROCESSING"
	InvoiceStatusPaid       InvoiceStatus = "PAID"
	InvoiceStatusFailed     InvoiceStatus = "FAILED"
)

// Valid reports whether s is a known status
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusProcessing, InvoiceStatusPaid, InvoiceStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the invoice's processing for a billing run
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusFailed
}

// ParseInvoiceStatus parses a status case-insensitively
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", s)
	}
	return status, nil
}

// Invoice is a billable record for one customer.
// Invoice values are never mutated in place; status changes go through an InvoiceStore.
type Invoice struct {
	ID         int64         `json:"id"`
	CustomerID int64         `json:"customerId"`
	Amount     Money         `json:"amount"`
	Status     InvoiceStatus `json:"status"`
}

// WithAmount returns a copy of the invoice carrying a different amount
func (i Invoice) WithAmount(amount Money) Invoice {
	i.Amount = amount
	return i
}

// WithStatus returns a copy of the invoice carrying a different status
func (i Invoice) WithStatus(status InvoiceStatus) Invoice {
	i.Status = status
	return i
}

// InvoicePaymentAction is the outcome of processing one invoice
type InvoicePaymentAction struct {
	Invoice Invoice `json:"invoice"`
	Charged bool    `json:"charged"`
}

// RunReport summarises one billing run
type RunReport struct {
	RunID      string        `json:"run_id"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Errored    int           `json:"errored"`
	Results    []RunResult   `json:"results,omitempty"`
}

// RunResult records what happened to a single invoice during a billing run
type RunResult struct {
	InvoiceID int64         `json:"invoice_id"`
	Status    InvoiceStatus `json:"status,omitempty"`
	Charged   bool          `json:"charged"`
	Error     string        `json:"error,omitempty"`
}
