// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit limits how often one remote host may open connections.
package ratelimit

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrRateLimited is reported to peers refused by a Limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultMaxHosts bounds the number of hosts tracked at once.
const DefaultMaxHosts = 10000

// bucket is a token bucket refilled continuously at the limiter's rate.
type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter keeps one token bucket per remote host. A zero or negative rate
// disables limiting and a nil *Limiter allows everything.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	maxHosts int
	buckets  map[string]*bucket
	now      func() time.Time
}

// New returns a Limiter allowing rate connections per second per host with
// bursts of up to burst connections.
func New(rate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:     rate,
		burst:    float64(burst),
		maxHosts: DefaultMaxHosts,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow takes one token for the host of addr. addr may be host:port or a bare host.
func (l *Limiter) Allow(addr string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	host := Host(addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[host]
	if !ok {
		if len(l.buckets) >= l.maxHosts {
			l.evict(now)
		}
		if len(l.buckets) >= l.maxHosts {
			return false
		}
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[host] = b
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evict drops buckets that refilled completely and so carry no state.
func (l *Limiter) evict(now time.Time) {
	for host, b := range l.buckets {
		if b.tokens+now.Sub(b.last).Seconds()*l.rate >= l.burst {
			delete(l.buckets, host)
		}
	}
}

// Hosts returns the number of tracked hosts.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Host strips the port from addr.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
