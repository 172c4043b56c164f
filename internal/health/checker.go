// Package health runs dependency probes for the readiness endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Status values reported by Check.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// Result is the outcome of a single probe.
type Result struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates every probe. Status is degraded when any probe failed.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

// Checker runs named probes concurrently under a shared timeout.
type Checker struct {
	timeout time.Duration
	mu      sync.RWMutex
	probes  map[string]Probe
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout, probes: make(map[string]Probe)}
}

// Register adds or replaces a probe. Nil probes are ignored.
func (c *Checker) Register(name string, probe Probe) {
	if probe == nil {
		return
	}
	c.mu.Lock()
	c.probes[name] = probe
	c.mu.Unlock()
}

// Names lists registered probes in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all probes and waits for them to finish or time out.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = Report{Status: StatusOK, Checks: make(map[string]Result, len(probes))}
	)
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := probe(ctx)
			res := Result{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = StatusError
				res.Error = err.Error()
			}
			mu.Lock()
			out.Checks[name] = res
			if err != nil {
				out.Status = StatusDegraded
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
