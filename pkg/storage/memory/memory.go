// Package memory implements in-process invoice and customer stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/biller/pkg/billing"
)

// Store keeps invoices and customers in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	invoices  map[int64]billing.Invoice
	customers map[int64]billing.Customer
}

// New creates an empty store
func New() *Store {
	return &Store{
		invoices:  make(map[int64]billing.Invoice),
		customers: make(map[int64]billing.Customer),
	}
}

// Invoices returns the store's invoice view
func (s *Store) Invoices() billing.InvoiceStore {
	return invoiceStore{s}
}

// Customers returns the store's customer view
func (s *Store) Customers() billing.CustomerStore {
	return customerStore{s}
}

// Seed implements storage.Storage
func (s *Store) Seed(_ context.Context, customers []billing.Customer, invoices []billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range customers {
		s.customers[c.ID] = c
	}
	for _, inv := range invoices {
		s.invoices[inv.ID] = inv
	}
	return nil
}

// HealthCheck implements storage.Storage
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close implements storage.Storage
func (s *Store) Close() error {
	return nil
}

type invoiceStore struct {
	s *Store
}

func (v invoiceStore) Fetch(_ context.Context, id int64) (billing.Invoice, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	inv, ok := v.s.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.InvoiceNotFoundError(id)
	}
	return inv, nil
}

func (v invoiceStore) FetchAll(_ context.Context) ([]billing.Invoice, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	out := make([]billing.Invoice, 0, len(v.s.invoices))
	for _, inv := range v.s.invoices {
		out = append(out, inv)
	}
	sortInvoices(out)
	return out, nil
}

func (v invoiceStore) FetchAllByStatus(_ context.Context, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	out := make([]billing.Invoice, 0)
	for _, inv := range v.s.invoices {
		if inv.Status == status {
			out = append(out, inv)
		}
	}
	sortInvoices(out)
	return out, nil
}

func (v invoiceStore) SetStatus(_ context.Context, id int64, status billing.InvoiceStatus) (billing.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	inv, ok := v.s.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.InvoiceNotFoundError(id)
	}
	inv = inv.WithStatus(status)
	v.s.invoices[id] = inv
	return inv, nil
}

func (v invoiceStore) Transition(_ context.Context, id int64, from, to billing.InvoiceStatus) (billing.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	inv, ok := v.s.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.InvoiceNotFoundError(id)
	}
	if inv.Status != from {
		return billing.Invoice{}, billing.InvalidStateError(inv)
	}
	inv = inv.WithStatus(to)
	v.s.invoices[id] = inv
	return inv, nil
}

type customerStore struct {
	s *Store
}

func (v customerStore) Fetch(_ context.Context, id int64) (billing.Customer, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	c, ok := v.s.customers[id]
	if !ok {
		return billing.Customer{}, billing.CustomerNotFoundError(id)
	}
	return c, nil
}

func (v customerStore) FetchAll(_ context.Context) ([]billing.Customer, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	out := make([]billing.Customer, 0, len(v.s.customers))
	for _, c := range v.s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func sortInvoices(invoices []billing.Invoice) {
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
}
