package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/storage"
)

var _ storage.Storage = (*Store)(nil)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	err := s.Seed(context.Background(),
		[]billing.Customer{{ID: 1, Currency: billing.CurrencyEUR}, {ID: 2, Currency: billing.CurrencyDKK}},
		[]billing.Invoice{
			{ID: 3, CustomerID: 2, Amount: billing.MustMoney("30", billing.CurrencyDKK), Status: billing.InvoiceStatusPending},
			{ID: 1, CustomerID: 1, Amount: billing.MustMoney("10", billing.CurrencyEUR), Status: billing.InvoiceStatusPending},
			{ID: 2, CustomerID: 1, Amount: billing.MustMoney("20", billing.CurrencyEUR), Status: billing.InvoiceStatusPaid},
		},
	)
	require.NoError(t, err)
	return s
}

func TestInvoiceStore_Fetch(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	inv, err := s.Invoices().Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inv.CustomerID)

	_, err = s.Invoices().Fetch(ctx, 99)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestInvoiceStore_FetchAllIsOrdered(t *testing.T) {
	s := seeded(t)

	all, err := s.Invoices().FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})
}

func TestInvoiceStore_FetchAllByStatus(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	pending, err := s.Invoices().FetchAllByStatus(ctx, billing.InvoiceStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	failed, err := s.Invoices().FetchAllByStatus(ctx, billing.InvoiceStatusFailed)
	require.NoError(t, err)
	assert.NotNil(t, failed)
	assert.Empty(t, failed)
}

func TestInvoiceStore_SetStatus(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	updated, err := s.Invoices().SetStatus(ctx, 1, billing.InvoiceStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusProcessing, updated.Status)

	stored, err := s.Invoices().Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusProcessing, stored.Status)
	assert.True(t, stored.Amount.Equal(billing.MustMoney("10", billing.CurrencyEUR)))

	_, err = s.Invoices().SetStatus(ctx, 42, billing.InvoiceStatusPaid)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestInvoiceStore_Transition(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	updated, err := s.Invoices().Transition(ctx, 1, billing.InvoiceStatusPending, billing.InvoiceStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusProcessing, updated.Status)

	_, err = s.Invoices().Transition(ctx, 1, billing.InvoiceStatusPending, billing.InvoiceStatusProcessing)
	assert.ErrorIs(t, err, billing.ErrInvalidState)

	stored, err := s.Invoices().Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusProcessing, stored.Status)

	_, err = s.Invoices().Transition(ctx, 42, billing.InvoiceStatusPending, billing.InvoiceStatusProcessing)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestCustomerStore(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	c, err := s.Customers().Fetch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, billing.CurrencyDKK, c.Currency)

	_, err = s.Customers().Fetch(ctx, 3)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	all, err := s.Customers().FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	customers, invoices := storage.DemoData(rand.New(rand.NewPCG(1, 2)), 20)
	require.NoError(t, s.Seed(context.Background(), customers, invoices))

	var wg sync.WaitGroup
	for _, inv := range invoices {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Invoices().SetStatus(context.Background(), id, billing.InvoiceStatusFailed)
			assert.NoError(t, err)
			_, err = s.Invoices().FetchAllByStatus(context.Background(), billing.InvoiceStatusPending)
			assert.NoError(t, err)
		}(inv.ID)
	}
	wg.Wait()

	failed, err := s.Invoices().FetchAllByStatus(context.Background(), billing.InvoiceStatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, len(invoices))
}

func TestDemoData(t *testing.T) {
	customers, invoices := storage.DemoData(rand.New(rand.NewPCG(7, 7)), 5)

	require.Len(t, customers, 5)
	require.Len(t, invoices, 5*storage.DemoInvoicesPerCustomer)

	currencyOf := make(map[int64]billing.Currency)
	for _, c := range customers {
		assert.True(t, c.Currency.Valid())
		currencyOf[c.ID] = c.Currency
	}

	pending := 0
	seen := make(map[int64]bool)
	for _, inv := range invoices {
		assert.False(t, seen[inv.ID], "duplicate invoice id %d", inv.ID)
		seen[inv.ID] = true
		assert.Equal(t, currencyOf[inv.CustomerID], inv.Amount.Currency)
		assert.True(t, inv.Amount.Amount.GreaterThanOrEqual(billing.MustMoney("10", "").Amount))
		assert.True(t, inv.Amount.Amount.LessThanOrEqual(billing.MustMoney("500", "").Amount))
		if inv.Status == billing.InvoiceStatusPending {
			pending++
		}
	}
	assert.Equal(t, 5, pending)
}
