// Package scheduler manages recurring rebalancing jobs: a Postgres-backed
// job store fronted by a Manager for schedule CRUD and a Runner that claims
// due jobs and executes them.
package scheduler

import (
	"fmt"
	"time"
)

// Named intervals accepted alongside Go duration strings
var namedIntervals = map[string]time.Duration{
	"hourly":  time.Hour,
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
}

// ParseInterval resolves a human interval ("weekly") or a Go duration
// string ("36h") into a duration
func ParseInterval(interval string) (time.Duration, error) {
	if d, ok := namedIntervals[interval]; ok {
		return d, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: use hourly, daily, weekly, monthly or a duration like 36h", interval)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("interval %q is below the 1 minute minimum", interval)
	}
	return d, nil
}

// NextRun computes the next firing time for an interval
func NextRun(now time.Time, interval string) (time.Time, error) {
	d, err := ParseInterval(interval)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}
