package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// callLog records provider calls across mocks so tests can assert ordering
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockPaymentProvider struct {
	log        *callLog
	chargeFunc func(ctx context.Context, invoice Invoice) (bool, error)

	mu      sync.Mutex
	charged []Invoice
}

func (m *mockPaymentProvider) Charge(ctx context.Context, invoice Invoice) (bool, error) {
	m.log.add("charge")
	m.mu.Lock()
	m.charged = append(m.charged, invoice)
	m.mu.Unlock()
	if m.chargeFunc != nil {
		return m.chargeFunc(ctx, invoice)
	}
	return true, nil
}

func (m *mockPaymentProvider) chargeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.charged)
}

type mockCurrencyProvider struct {
	log         *callLog
	convertFunc func(ctx context.Context, from Money, to Currency) (Money, error)
	calls       int
}

func (m *mockCurrencyProvider) Convert(ctx context.Context, from Money, to Currency) (Money, error) {
	m.log.add("convert")
	m.calls++
	if m.convertFunc != nil {
		return m.convertFunc(ctx, from, to)
	}
	return Money{Amount: from.Amount, Currency: to}, nil
}

type mockCustomerStore struct {
	fetchFunc    func(ctx context.Context, id int64) (Customer, error)
	fetchAllFunc func(ctx context.Context) ([]Customer, error)
}

func (m *mockCustomerStore) Fetch(ctx context.Context, id int64) (Customer, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, id)
	}
	return Customer{ID: id, Currency: CurrencyEUR}, nil
}

func (m *mockCustomerStore) FetchAll(ctx context.Context) ([]Customer, error) {
	if m.fetchAllFunc != nil {
		return m.fetchAllFunc(ctx)
	}
	return nil, nil
}

// recordingInvoiceStore keeps invoices in memory and records every status write
type recordingInvoiceStore struct {
	mu            sync.Mutex
	invoices      map[int64]Invoice
	transitions   map[int64][]InvoiceStatus
	setStatusFunc func(ctx context.Context, id int64, status InvoiceStatus) error
	fetchAllErr   error
}

func newRecordingInvoiceStore(invoices ...Invoice) *recordingInvoiceStore {
	s := &recordingInvoiceStore{
		invoices:    make(map[int64]Invoice),
		transitions: make(map[int64][]InvoiceStatus),
	}
	for _, inv := range invoices {
		s.invoices[inv.ID] = inv
	}
	return s
}

func (s *recordingInvoiceStore) Fetch(_ context.Context, id int64) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, InvoiceNotFoundError(id)
	}
	return inv, nil
}

func (s *recordingInvoiceStore) FetchAll(ctx context.Context) ([]Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchAllErr != nil {
		return nil, s.fetchAllErr
	}
	out := make([]Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *recordingInvoiceStore) FetchAllByStatus(ctx context.Context, status InvoiceStatus) ([]Invoice, error) {
	all, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Invoice
	for _, inv := range all {
		if inv.Status == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *recordingInvoiceStore) SetStatus(ctx context.Context, id int64, status InvoiceStatus) (Invoice, error) {
	if s.setStatusFunc != nil {
		if err := s.setStatusFunc(ctx, id, status); err != nil {
			return Invoice{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, InvoiceNotFoundError(id)
	}
	inv.Status = status
	s.invoices[id] = inv
	s.transitions[id] = append(s.transitions[id], status)
	return inv, nil
}

func (s *recordingInvoiceStore) Transition(ctx context.Context, id int64, from, to InvoiceStatus) (Invoice, error) {
	if s.setStatusFunc != nil {
		if err := s.setStatusFunc(ctx, id, to); err != nil {
			return Invoice{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, InvoiceNotFoundError(id)
	}
	if inv.Status != from {
		return Invoice{}, InvalidStateError(inv)
	}
	inv.Status = to
	s.invoices[id] = inv
	s.transitions[id] = append(s.transitions[id], to)
	return inv, nil
}

func (s *recordingInvoiceStore) history(id int64) []InvoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InvoiceStatus(nil), s.transitions[id]...)
}

func (s *recordingInvoiceStore) status(id int64) InvoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id].Status
}

type recordingObserver struct {
	mu          sync.Mutex
	charges     []string
	conversions []string
	processed   []InvoiceStatus
	retries     []string
}

func (o *recordingObserver) ChargeAttempted(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.charges = append(o.charges, outcome)
}

func (o *recordingObserver) ConversionAttempted(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversions = append(o.conversions, outcome)
}

func (o *recordingObserver) InvoiceProcessed(status InvoiceStatus, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed = append(o.processed, status)
}

func (o *recordingObserver) RetryScheduled(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, reason)
}

// noSleep records requested backoffs without waiting
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.waits = append(n.waits, d)
	n.mu.Unlock()
	return ctx.Err()
}

func pendingInvoice(id, customerID int64, amount string, currency Currency) Invoice {
	return Invoice{
		ID:         id,
		CustomerID: customerID,
		Amount:     MustMoney(amount, currency),
		Status:     InvoiceStatusPending,
	}
}
