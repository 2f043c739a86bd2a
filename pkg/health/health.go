// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health reports whether the listeners of a process are serving.
package health

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

var (
	// ErrNotServing is reported by a Probe that was never marked serving.
	ErrNotServing = errors.New("not serving")

	// ErrStopped is reported by a Probe after its component stopped.
	ErrStopped = errors.New("stopped")
)

// Status is the health of a single check or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one check.
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the body served by the health endpoints.
type Report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

// CheckFunc returns nil while the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Checker runs named checks on demand.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker returns a Checker without checks, which reports healthy.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health runs every check and returns the results ordered by name. The process
// is unhealthy as soon as one check fails.
func (c *Checker) Health(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, f := range c.checks {
		names = append(names, name)
		funcs[name] = f
	}
	c.mu.RUnlock()
	slices.Sort(names)

	r := Report{Status: StatusHealthy, Checks: make([]Check, 0, len(names))}
	for _, name := range names {
		start := time.Now()
		err := funcs[name](ctx)
		check := Check{
			Name:     name,
			Status:   StatusHealthy,
			Duration: time.Since(start),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			r.Status = StatusUnhealthy
		}
		r.Checks = append(r.Checks, check)
	}
	return r
}

// ReadinessHandler serves the report, with 503 while any check fails.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := c.Health(ctx)
		code := http.StatusOK
		if report.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// LivenessHandler reports that the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Report{Status: StatusHealthy})
	}
}

// Mount registers /health and /ready on the readiness handler and /live on the
// liveness handler.
func (c *Checker) Mount(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix+"/health", c.ReadinessHandler())
	mux.HandleFunc(prefix+"/ready", c.ReadinessHandler())
	mux.HandleFunc(prefix+"/live", LivenessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// Probe is a check whose result is set by the component it watches.
type Probe struct {
	mu  sync.RWMutex
	err error
}

// Probe registers and returns a Probe called name. It fails with ErrNotServing
// until Set(nil) is called.
func (c *Checker) Probe(name string) *Probe {
	p := &Probe{err: ErrNotServing}
	c.Register(name, p.Check)
	return p
}

// Set records the component's state. nil means healthy.
func (p *Probe) Set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Check returns the last state passed to Set.
func (p *Probe) Check(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}
