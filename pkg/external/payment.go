package external

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/platinummonkey/biller/pkg/billing"
)

// PaymentConfig controls the behaviour of the simulated payment provider
type PaymentConfig struct {
	// DeclineRate is the probability in [0,1] that a charge is declined
	DeclineRate float64
	// NetworkErrorRate is the probability in [0,1] that a call fails with ErrNetwork
	NetworkErrorRate float64
	// Latency is added to every call
	Latency time.Duration
}

// DefaultPaymentConfig returns the simulation defaults
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		DeclineRate:      0.1,
		NetworkErrorRate: 0.05,
	}
}

// Validate checks that the rates are probabilities
func (c PaymentConfig) Validate() error {
	if c.DeclineRate < 0 || c.DeclineRate > 1 {
		return fmt.Errorf("decline rate must be within [0,1], got %v", c.DeclineRate)
	}
	if c.NetworkErrorRate < 0 || c.NetworkErrorRate > 1 {
		return fmt.Errorf("network error rate must be within [0,1], got %v", c.NetworkErrorRate)
	}
	if c.Latency < 0 {
		return fmt.Errorf("latency must not be negative")
	}
	return nil
}

// SimulatedPaymentProvider is an in-process billing.PaymentProvider. It
// holds an account per customer: unknown customers fail with
// ErrCustomerNotFound and invoices in a foreign currency fail with
// ErrCurrencyMismatch. Network errors and declines are random.
type SimulatedPaymentProvider struct {
	customers billing.CustomerStore
	config    PaymentConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedPaymentProvider creates a provider backed by the customer store.
// A nil rng uses a randomly seeded source.
func NewSimulatedPaymentProvider(customers billing.CustomerStore, config PaymentConfig, rng *rand.Rand) *SimulatedPaymentProvider {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimulatedPaymentProvider{
		customers: customers,
		config:    config,
		rng:       rng,
	}
}

// Charge implements billing.PaymentProvider
func (p *SimulatedPaymentProvider) Charge(ctx context.Context, invoice billing.Invoice) (bool, error) {
	if err := simulateLatency(ctx, p.config.Latency); err != nil {
		return false, err
	}

	if p.roll() < p.config.NetworkErrorRate {
		return false, fmt.Errorf("payment gateway timeout: %w", billing.ErrNetwork)
	}

	customer, err := p.customers.Fetch(ctx, invoice.CustomerID)
	if errors.Is(err, billing.ErrNotFound) {
		return false, fmt.Errorf("no account for customer '%d': %w", invoice.CustomerID, billing.ErrCustomerNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("payment gateway lookup failed: %w", billing.ErrNetwork)
	}

	if !invoice.Amount.Compatible(customer.Currency) {
		return false, fmt.Errorf("invoice '%d' is in %s, account in %s: %w",
			invoice.ID, invoice.Amount.Currency, customer.Currency, billing.ErrCurrencyMismatch)
	}

	return p.roll() >= p.config.DeclineRate, nil
}

func (p *SimulatedPaymentProvider) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func simulateLatency(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", billing.ErrNetwork, ctx.Err())
	case <-timer.C:
		return nil
	}
}
