// Package limits bounds how many tasks may run each pipeline stage at once
// across all channels.
package limits

import (
	"context"
	"sync"
)

// semaphore is a counting semaphore. A nil semaphore is unlimited.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n <= 0 {
		return nil
	}
	return &semaphore{ch: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) bool {
	if s == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *semaphore) tryAcquire() bool {
	if s == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *semaphore) release() {
	if s == nil {
		return
	}
	<-s.ch
}

func (s *semaphore) capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.ch)
}

func (s *semaphore) inUse() int {
	if s == nil {
		return 0
	}
	return len(s.ch)
}

// StageLimiter holds one gate per stage. Limits reload atomically: a Reload
// swaps in fresh gates, and leases acquired before the swap release into the
// gate they came from, so a shrink never underflows and the new limit applies
// to new acquisitions immediately.
type StageLimiter struct {
	mu    sync.RWMutex
	gates map[string]*semaphore
}

// Lease represents one held stage slot. Release returns it; Release is safe
// to call once per lease.
type Lease struct {
	sem  *semaphore
	once sync.Once
}

// Release frees the held slot.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.sem.release()
	})
}

// New builds a limiter from per-stage ceilings. A limit <= 0 means the stage
// is unbounded.
func New(stageLimits map[string]int) *StageLimiter {
	limiter := &StageLimiter{gates: make(map[string]*semaphore, len(stageLimits))}
	for stage, limit := range stageLimits {
		limiter.gates[stage] = newSemaphore(limit)
	}
	return limiter
}

// Acquire blocks until the stage has a free slot or ctx is cancelled.
// Unknown stages are unbounded.
func (l *StageLimiter) Acquire(ctx context.Context, stage string) (*Lease, bool) {
	sem := l.gate(stage)
	if !sem.acquire(ctx) {
		return nil, false
	}
	return &Lease{sem: sem}, true
}

// TryAcquire takes a slot if one is free right now.
func (l *StageLimiter) TryAcquire(stage string) (*Lease, bool) {
	sem := l.gate(stage)
	if !sem.tryAcquire() {
		return nil, false
	}
	return &Lease{sem: sem}, true
}

// HasSlot reports whether the stage could admit a task right now. The answer
// is advisory: another worker may take the slot before the caller does.
func (l *StageLimiter) HasSlot(stage string) bool {
	sem := l.gate(stage)
	if sem == nil {
		return true
	}
	return sem.inUse() < sem.capacity()
}

// Reload replaces every stage gate with fresh ones sized from stageLimits.
// Outstanding leases keep pointing at their original gates.
func (l *StageLimiter) Reload(stageLimits map[string]int) {
	gates := make(map[string]*semaphore, len(stageLimits))
	for stage, limit := range stageLimits {
		gates[stage] = newSemaphore(limit)
	}
	l.mu.Lock()
	l.gates = gates
	l.mu.Unlock()
}

// Limit returns the configured ceiling for a stage; 0 means unbounded.
func (l *StageLimiter) Limit(stage string) int {
	return l.gate(stage).capacity()
}

func (l *StageLimiter) gate(stage string) *semaphore {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gates[stage]
}
