// Package external provides in-process stand-ins for the third-party
// services the billing engine talks to.
//
// SimulatedPaymentProvider charges against the customer store and fails with
// the same error classes a real gateway would produce. RateTable converts
// money through a table of exchange rates loaded from YAML and can follow
// changes to the rates file:
//
//	table := external.NewRateTable(external.DefaultRates(), external.RateTableConfig{}, nil, logger)
//	if err := table.Reload("rates.yaml"); err != nil {
//		return err
//	}
//	go table.Watch(ctx, "rates.yaml")
package external
