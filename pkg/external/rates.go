package external

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/biller/pkg/billing"
)

// RatesFile is the on-disk format of a rate table.
//
//	base: EUR
//	rates:
//	  DKK: "7.46"
//	  USD: "1.08"
type RatesFile struct {
	Base  string            `yaml:"base"`
	Rates map[string]string `yaml:"rates"`
}

// Rates maps each currency to its value in units per one unit of the base
type Rates map[billing.Currency]decimal.Decimal

// DefaultRates is used when no rates file is configured
func DefaultRates() Rates {
	return Rates{
		billing.CurrencyEUR: decimal.NewFromInt(1),
		billing.CurrencyDKK: decimal.RequireFromString("7.46"),
		billing.CurrencyUSD: decimal.RequireFromString("1.08"),
		billing.CurrencyGBP: decimal.RequireFromString("0.86"),
		billing.CurrencySEK: decimal.RequireFromString("11.20"),
	}
}

// ParseRates decodes a YAML rate table. The base currency always has rate 1.
func ParseRates(data []byte) (Rates, error) {
	var file RatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rates: %w", err)
	}

	base, err := billing.ParseCurrency(file.Base)
	if err != nil {
		return nil, fmt.Errorf("invalid base currency: %w", err)
	}

	rates := Rates{base: decimal.NewFromInt(1)}
	for code, value := range file.Rates {
		currency, err := billing.ParseCurrency(code)
		if err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", currency, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", currency)
		}
		if currency == base && !rate.Equal(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("base currency %s must have rate 1", base)
		}
		rates[currency] = rate
	}
	return rates, nil
}

// LoadRates reads a YAML rate table from path
func LoadRates(path string) (Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rates file: %w", err)
	}
	return ParseRates(data)
}

// RateTableConfig controls the rate table currency provider
type RateTableConfig struct {
	// NetworkErrorRate is the probability in [0,1] that a conversion fails with ErrNetwork
	NetworkErrorRate float64
}

// RateTable is a billing.CurrencyProvider converting through a table of
// rates. The table can be swapped at runtime, see Watch.
type RateTable struct {
	config RateTableConfig
	logger logrus.FieldLogger

	mu    sync.RWMutex
	rates Rates
	rng   *rand.Rand
}

// NewRateTable creates a currency provider with the given rates
func NewRateTable(rates Rates, config RateTableConfig, rng *rand.Rand, logger logrus.FieldLogger) *RateTable {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RateTable{
		config: config,
		logger: logger,
		rates:  rates,
		rng:    rng,
	}
}

// Convert implements billing.CurrencyProvider. Results are rounded to cents.
func (t *RateTable) Convert(ctx context.Context, from billing.Money, to billing.Currency) (billing.Money, error) {
	if err := ctx.Err(); err != nil {
		return billing.Money{}, fmt.Errorf("%w: %v", billing.ErrNetwork, err)
	}

	t.mu.Lock()
	failed := t.rng.Float64() < t.config.NetworkErrorRate
	rates := t.rates
	t.mu.Unlock()

	if failed {
		return billing.Money{}, fmt.Errorf("exchange rate service unavailable: %w", billing.ErrNetwork)
	}

	if from.Currency == to {
		return from, nil
	}

	fromRate, ok := rates[from.Currency]
	if !ok {
		return billing.Money{}, fmt.Errorf("no rate for %s", from.Currency)
	}
	toRate, ok := rates[to]
	if !ok {
		return billing.Money{}, fmt.Errorf("no rate for %s", to)
	}

	amount := from.Amount.Mul(toRate).DivRound(fromRate, 2)
	return billing.Money{Amount: amount, Currency: to}, nil
}

// Rates returns the current table
func (t *RateTable) Rates() Rates {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rates
}

// SetRates replaces the table
func (t *RateTable) SetRates(rates Rates) {
	t.mu.Lock()
	t.rates = rates
	t.mu.Unlock()
}

// Reload reads path and replaces the table. On error the old table is kept.
func (t *RateTable) Reload(path string) error {
	rates, err := LoadRates(path)
	if err != nil {
		return err
	}
	t.SetRates(rates)
	t.logger.WithFields(logrus.Fields{
		"path":       path,
		"currencies": len(rates),
	}).Info("Loaded currency rates")
	return nil
}

// Watch reloads the table whenever the rates file at path is written or
// replaced, until ctx is done. The containing directory is watched so
// atomic renames by editors and config management are picked up.
func (t *RateTable) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	t.logger.WithField("path", abs).Info("Watching currency rates file")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := t.Reload(abs); err != nil {
				t.logger.WithError(err).Warn("Failed to reload currency rates, keeping previous table")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.WithError(err).Warn("Rates watcher error")
		}
	}
}
