// Package healthcheck aggregates readiness checks for the admin API.
package healthcheck

import (
	"context"
	"sync"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Report is the combined outcome of all checkers.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Run evaluates checkers concurrently. Results keep checker order; the
// overall status is the worst individual status.
func Run(ctx context.Context, checkers ...Checker) Report {
	results := make([][]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.ListChecks(ctx)
		}(i, c)
	}
	wg.Wait()

	report := Report{Status: StatusOK, Checks: []CheckResult{}}
	for _, items := range results {
		for _, item := range items {
			report.Checks = append(report.Checks, item)
			if severity(item.Status) > severity(report.Status) {
				report.Status = item.Status
			}
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusUnknown:
		return 1
	case StatusWarn:
		return 2
	case StatusError:
		return 3
	default:
		return 1
	}
}
