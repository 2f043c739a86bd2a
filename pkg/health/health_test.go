// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sugawarayuuta/sonnet"
)

func TestChecker_Health(t *testing.T) {
	c := NewChecker()
	if r := c.Health(context.Background()); r.Status != StatusHealthy || len(r.Checks) != 0 {
		t.Errorf("Expected empty healthy report, got %+v", r)
	}

	c.Register("b", func(ctx context.Context) error { return nil })
	c.Register("a", func(ctx context.Context) error { return errors.New("down") })

	r := c.Health(context.Background())
	if r.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", r.Status)
	}
	if len(r.Checks) != 2 || r.Checks[0].Name != "a" || r.Checks[1].Name != "b" {
		t.Fatalf("Expected checks ordered a, b, got %+v", r.Checks)
	}
	if r.Checks[0].Message != "down" || r.Checks[1].Status != StatusHealthy {
		t.Errorf("Unexpected check results %+v", r.Checks)
	}
}

func TestProbe(t *testing.T) {
	c := NewChecker()
	p := c.Probe("mqtt")

	if err := p.Check(context.Background()); !errors.Is(err, ErrNotServing) {
		t.Errorf("Expected ErrNotServing, got %v", err)
	}
	p.Set(nil)
	if r := c.Health(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Expected healthy after Set(nil), got %+v", r)
	}
	p.Set(ErrStopped)
	if r := c.Health(context.Background()); r.Status != StatusUnhealthy || r.Checks[0].Message != ErrStopped.Error() {
		t.Errorf("Expected stopped probe, got %+v", r)
	}
}

func TestMount(t *testing.T) {
	c := NewChecker()
	p := c.Probe("http")
	mux := http.NewServeMux()
	c.Mount(mux, "/")

	tests := []struct {
		name   string
		path   string
		ready  bool
		status int
		body   Status
	}{
		{name: "not ready", path: "/ready", status: http.StatusServiceUnavailable, body: StatusUnhealthy},
		{name: "health not ready", path: "/health", status: http.StatusServiceUnavailable, body: StatusUnhealthy},
		{name: "live", path: "/live", status: http.StatusOK, body: StatusHealthy},
		{name: "ready", path: "/ready", ready: true, status: http.StatusOK, body: StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ready {
				p.Set(nil)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Expected JSON content type, got '%s'", ct)
			}
			var r Report
			if err := sonnet.Unmarshal(rec.Body.Bytes(), &r); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if r.Status != tt.body {
				t.Errorf("Expected status '%s', got '%s'", tt.body, r.Status)
			}
		})
	}
}
