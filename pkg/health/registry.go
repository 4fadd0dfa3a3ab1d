// Package health runs connectivity checks against the backends an SDK client depends on.
package health

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// severity orders statuses so the aggregate is the worst one seen.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name      string         `json:"name" yaml:"name"`
	Status    Status         `json:"status" yaml:"status"`
	Message   string         `json:"message,omitempty" yaml:"message,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry keeps checks ordered by name.
type Registry struct {
	mu     sync.RWMutex
	checks []Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check, replacing any check with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := slices.BinarySearchFunc(r.checks, checker.Name(), byName)
	if found {
		r.checks[i] = checker
		return
	}
	r.checks = slices.Insert(r.checks, i, checker)
}

// RegisterFunc registers fn under name. Results are stamped with name when fn leaves it empty.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) CheckResult) {
	r.Register(funcChecker{name: name, fn: fn})
}

func byName(c Checker, name string) int {
	switch n := c.Name(); {
	case n < name:
		return -1
	case n > name:
		return 1
	}
	return 0
}

// Check runs every registered check concurrently and folds the statuses.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checks := slices.Clone(r.checks)
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = safeCheck(ctx, c)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		if res.Status.severity() > overall.severity() {
			overall = res.Status
		}
	}
	return AggregatedResult{
		Status:    overall,
		Checks:    results,
		Timestamp: start,
		Duration:  time.Since(start),
	}
}

// CheckOne runs the check registered under name.
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	i, found := slices.BinarySearchFunc(r.checks, name, byName)
	var c Checker
	if found {
		c = r.checks[i]
	}
	r.mu.RUnlock()

	if c == nil {
		return CheckResult{}, apperr.NotFound("health check %q is not registered", name)
	}
	return safeCheck(ctx, c), nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// safeCheck turns a panicking check into an unhealthy result and fills in
// the bookkeeping fields a checker left blank.
func safeCheck(ctx context.Context, c Checker) (res CheckResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = CheckResult{Status: StatusUnhealthy, Error: fmt.Sprint("check panicked: ", p)}
		}
		if res.Name == "" {
			res.Name = c.Name()
		}
		if res.Status == "" {
			res.Status = StatusHealthy
		}
		if res.Timestamp.IsZero() {
			res.Timestamp = start
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()
	return c.Check(ctx)
}

type AggregatedResult struct {
	Status    Status        `json:"status" yaml:"status"`
	Checks    []CheckResult `json:"checks" yaml:"checks"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func (c funcChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
func (c funcChecker) Name() string                          { return c.name }
