package scheduler

import (
	"context"
	"sync"
	"time"
)

const monthKeyLayout = "2006-01"

// MonthlyGate wraps job so it only runs on the given day of the month and at
// most once per calendar month. Fires on any other day are no-ops. A month
// whose billing day passes without a fire is skipped, not caught up.
func MonthlyGate(now func() time.Time, day int, job Job) Job {
	if now == nil {
		now = time.Now
	}
	if day < 1 {
		day = 1
	}

	var (
		mu      sync.Mutex
		lastRun string
	)

	return func(ctx context.Context) error {
		today := now()
		if today.Day() != day {
			return nil
		}

		month := today.Format(monthKeyLayout)
		mu.Lock()
		if lastRun == month {
			mu.Unlock()
			return nil
		}
		lastRun = month
		mu.Unlock()

		return job(ctx)
	}
}

// NextMidnight returns the first midnight strictly after t in t's location
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
