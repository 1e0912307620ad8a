// Package health runs named component checks concurrently and aggregates them
// into a single report.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Critical  bool              `json:"critical"`
}

// Checker is a single named health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
	IsCritical() bool
}

type checkerFunc struct {
	name     string
	critical bool
	fn       func(ctx context.Context) CheckResult
}

// NewChecker wraps fn as a Checker.
func NewChecker(name string, critical bool, fn func(ctx context.Context) CheckResult) Checker {
	return &checkerFunc{name: name, critical: critical, fn: fn}
}

func (c *checkerFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
func (c *checkerFunc) Name() string                          { return c.name }
func (c *checkerFunc) IsCritical() bool                      { return c.critical }

// HealthReport represents the overall health status
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Version   string                 `json:"version"`
	Service   string                 `json:"service"`
	Checks    map[string]CheckResult `json:"checks"`
	Summary   map[Status]int         `json:"summary"`
	Critical  bool                   `json:"critical"`
}

// HealthChecker manages multiple health checks
type HealthChecker struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHealthChecker creates a checker whose runs are bounded by timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checkers: make(map[string]Checker),
		timeout:  timeout,
	}
}

// AddChecker registers checker, replacing any with the same name.
func (hc *HealthChecker) AddChecker(checker Checker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkers[checker.Name()] = checker
}

// RemoveChecker removes a health checker
func (hc *HealthChecker) RemoveChecker(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checkers, name)
}

// Names lists the registered checks in order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checkers))
	for name := range hc.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check in parallel and returns the report.
func (hc *HealthChecker) Check(ctx context.Context, service, version string) HealthReport {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	hc.mu.RLock()
	checkers := make([]Checker, 0, len(hc.checkers))
	for _, c := range hc.checkers {
		checkers = append(checkers, c)
	}
	hc.mu.RUnlock()

	results := make(chan CheckResult, len(checkers))
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			results <- runSingleCheck(checkCtx, c)
		}(c)
	}
	wg.Wait()
	close(results)

	report := HealthReport{
		Version: version,
		Service: service,
		Checks:  make(map[string]CheckResult, len(checkers)),
		Summary: map[Status]int{
			StatusHealthy:   0,
			StatusUnhealthy: 0,
			StatusDegraded:  0,
			StatusUnknown:   0,
		},
	}
	for r := range results {
		report.Checks[r.Name] = r
		report.Summary[r.Status]++
		if r.Critical && r.Status != StatusHealthy {
			report.Critical = true
		}
	}

	report.Status = overallStatus(report.Summary, report.Critical)
	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

// runSingleCheck turns a panicking check into an unhealthy result.
func runSingleCheck(ctx context.Context, checker Checker) (result CheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("check panicked: %v", r),
			}
		}
		result.Name = checker.Name()
		result.Critical = checker.IsCritical()
		result.Duration = time.Since(start)
		result.Timestamp = time.Now()
	}()

	return checker.Check(ctx)
}

func overallStatus(summary map[Status]int, criticalFailed bool) Status {
	switch {
	case criticalFailed, summary[StatusUnhealthy] > 0:
		return StatusUnhealthy
	case summary[StatusDegraded] > 0, summary[StatusUnknown] > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// PingChecker reports unhealthy when ping fails. Conversation stores register
// through it as a critical check.
func PingChecker(name string, critical bool, ping func(ctx context.Context) error) Checker {
	return NewChecker(name, critical, func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   err.Error(),
				Message: name + " unreachable",
			}
		}
		return CheckResult{Status: StatusHealthy, Message: name + " reachable"}
	})
}

// CapacityChecker reports degraded once current reaches warnRatio of max.
// A non-positive max disables the limit.
func CapacityChecker(name string, current func() int, max int, warnRatio float64) Checker {
	return NewChecker(name, false, func(ctx context.Context) CheckResult {
		n := current()
		result := CheckResult{
			Status: StatusHealthy,
			Metadata: map[string]string{
				"current": fmt.Sprintf("%d", n),
				"max":     fmt.Sprintf("%d", max),
			},
		}
		if max > 0 && float64(n) >= float64(max)*warnRatio {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%s at %d of %d", name, n, max)
		}
		return result
	})
}
