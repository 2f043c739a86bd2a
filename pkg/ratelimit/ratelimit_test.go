// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(rate float64, burst int) (*Limiter, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	l := New(rate, burst)
	l.now = c.now
	return l, c
}

func TestLimiter_Burst(t *testing.T) {
	l, c := newTestLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1:5000") {
			t.Fatalf("Expected connection %d to be allowed", i)
		}
	}
	if l.Allow("10.0.0.1:5001") {
		t.Error("Expected fourth connection from the same host to be limited")
	}
	if !l.Allow("10.0.0.2:5000") {
		t.Error("Expected another host to be allowed")
	}

	c.t = c.t.Add(500 * time.Millisecond)
	if l.Allow("10.0.0.1:5002") {
		t.Error("Expected half a token not to be enough")
	}
	c.t = c.t.Add(500 * time.Millisecond)
	if !l.Allow("10.0.0.1:5003") {
		t.Error("Expected refilled token to be allowed")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	var nilLimiter *Limiter
	if !nilLimiter.Allow("10.0.0.1:1") {
		t.Error("Expected nil limiter to allow")
	}
	if nilLimiter.Hosts() != 0 {
		t.Error("Expected nil limiter to track no hosts")
	}

	l := New(0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow("10.0.0.1:1") {
			t.Fatal("Expected zero rate to disable limiting")
		}
	}
	if l.Hosts() != 0 {
		t.Errorf("Expected disabled limiter to track no hosts, got %d", l.Hosts())
	}
}

func TestLimiter_MaxHosts(t *testing.T) {
	l, c := newTestLimiter(1, 1)
	l.maxHosts = 2

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("Expected first two hosts to be allowed")
	}
	if l.Allow("c") {
		t.Error("Expected third host to be refused while buckets are busy")
	}

	c.t = c.t.Add(time.Second)
	if !l.Allow("c") {
		t.Error("Expected refilled buckets to be evicted")
	}
	if l.Hosts() != 1 {
		t.Errorf("Expected 1 tracked host after eviction, got %d", l.Hosts())
	}
}

func TestHost(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{addr: "10.0.0.1:1883", want: "10.0.0.1"},
		{addr: "[::1]:80", want: "::1"},
		{addr: "example.com", want: "example.com"},
	}

	for _, tt := range tests {
		if got := Host(tt.addr); got != tt.want {
			t.Errorf("Host(%q): expected '%s', got '%s'", tt.addr, tt.want, got)
		}
	}
}
