// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements per-upstream circuit breakers for the
// weather service's external dependencies (tomorrow.io, Open-Meteo,
// and the LLM provider).
//
// # Description
//
// Each breaker tracks failures inside a rolling window. When the
// failure count reaches the configured threshold the circuit opens and
// calls fail fast with ErrOpen until a cooldown elapses. The first call
// after cooldown probes the upstream (half-open); success closes the
// circuit, failure re-opens it for another full cooldown.
//
// # Thread Safety
//
// All Breaker and Registry methods are safe for concurrent use.
//
// # Limitations
//
//   - State is process-local. Replicas trip independently, which is
//     acceptable because the protected upstreams rate limit per key,
//     not per client IP.
//   - Execute relies on the wrapped call honoring context cancellation
//     for timeout enforcement.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State identifies the breaker's position in its lifecycle.
type State string

const (
	// StateClosed allows all calls through.
	StateClosed State = "closed"

	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen allows probe calls after the cooldown.
	StateHalfOpen State = "half_open"
)

var (
	// ErrOpen is returned by Execute when the circuit is open and the
	// cooldown has not yet elapsed. Callers should fall back rather
	// than retry.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned by Execute when the wrapped call exceeds
	// the configured call timeout. The timeout counts as a failure.
	ErrTimeout = errors.New("circuit breaker call timed out")
)

// Config holds the tuning knobs for one breaker.
type Config struct {
	// FailureThreshold is the number of failures within Window that
	// trips the circuit.
	FailureThreshold int

	// Window is the rolling interval over which failures are counted.
	// Failures older than the window are discarded.
	Window time.Duration

	// Cooldown is how long the circuit stays open before allowing a
	// half-open probe.
	Cooldown time.Duration

	// CallTimeout bounds each call made through Execute.
	CallTimeout time.Duration
}

// DefaultConfig is used for upstreams without a tuned entry in Configs.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Window:           5 * time.Minute,
		Cooldown:         5 * time.Minute,
		CallTimeout:      10 * time.Second,
	}
}

// Configs maps upstream names to their tuned breaker settings.
//
// tomorrow.io trips fast and recovers fast: the free tier rate limits
// aggressively and Open-Meteo covers the gap. The LLM breaker tolerates
// slow calls but backs off for longer, since assistant traffic is the
// first thing to shed under provider incidents.
var Configs = map[string]Config{
	"tomorrow-io": {
		FailureThreshold: 3,
		Window:           5 * time.Minute,
		Cooldown:         2 * time.Minute,
		CallTimeout:      5 * time.Second,
	},
	"open-meteo": {
		FailureThreshold: 5,
		Window:           5 * time.Minute,
		Cooldown:         5 * time.Minute,
		CallTimeout:      8 * time.Second,
	},
	"anthropic": {
		FailureThreshold: 3,
		Window:           10 * time.Minute,
		Cooldown:         5 * time.Minute,
		CallTimeout:      15 * time.Second,
	},
}

// Breaker is a single upstream's circuit breaker.
//
// The zero value is not usable; construct with New.
type Breaker struct {
	name string
	cfg  Config

	// now is injectable for tests.
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
}

// New creates a closed breaker for the named upstream.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Name returns the upstream name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call may proceed, transitioning an open
// circuit to half-open once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		// Closed and half-open both admit calls.
		return true
	}
}

// RecordSuccess notes a successful call.
//
// Success only matters in half-open: the probe worked, so the circuit
// closes and the failure history resets. Successes in the closed state
// do not clear failures; the rolling window handles expiry.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = b.failures[:0]
	}
}

// RecordFailure notes a failed call, tripping the circuit when the
// windowed failure count reaches the threshold. A failure during a
// half-open probe re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
	case b.state == StateClosed && len(b.failures) >= b.cfg.FailureThreshold:
		b.state = StateOpen
		b.openedAt = now
	}
}

// pruneLocked drops failures older than the rolling window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// State returns the breaker's current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot describes a breaker for status reporting.
type Snapshot struct {
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(b.now())
	snap := Snapshot{
		Name:     b.name,
		State:    b.state,
		Failures: len(b.failures),
	}
	if b.state != StateClosed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}

// Execute runs fn through the breaker.
//
// The call is rejected with ErrOpen when the circuit is open. Otherwise
// fn runs under a context bounded by CallTimeout; a deadline hit counts
// as a failure and surfaces as ErrTimeout, any other error counts as a
// failure and is returned unchanged, and success records a success.
//
// fn must honor ctx cancellation for the timeout to take effect.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Our timeout fired, not the caller's.
			b.RecordFailure()
			return ErrTimeout
		}
		if ctx.Err() != nil {
			// Caller cancelled; don't punish the upstream for it.
			return err
		}
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry hands out one breaker per upstream name, creating them
// lazily from Configs (or DefaultConfig for unknown names).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg, ok := Configs[name]
	if !ok {
		cfg = DefaultConfig()
	}
	b = New(name, cfg)
	r.breakers[name] = b
	return b
}

// Snapshots returns the current state of every breaker the registry
// has created, keyed by upstream name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
