package services

import (
	"context"
	"sync"
	"time"

	"channel-gate/pkg/logging"
)

// PaymentGuard remembers which payment requests already activated a subscription
type PaymentGuard interface {
	// Acquire returns false when paymentRequestID was already claimed
	Acquire(ctx context.Context, paymentRequestID string) (bool, error)
	// Release forgets a claim so a redelivery can retry
	Release(ctx context.Context, paymentRequestID string) error
}

// MemoryGuard is an in-process PaymentGuard with expiring entries
type MemoryGuard struct {
	claimed         map[string]time.Time
	mutex           sync.Mutex
	cleanupInterval time.Duration
	ttl             time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewMemoryGuard creates a guard and starts its cleanup goroutine
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	g := &MemoryGuard{
		claimed:         make(map[string]time.Time),
		cleanupInterval: time.Hour,
		ttl:             ttl,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go g.startCleanupRoutine()

	return g
}

// Acquire claims paymentRequestID
func (g *MemoryGuard) Acquire(_ context.Context, paymentRequestID string) (bool, error) {
	if paymentRequestID == "" {
		return true, nil
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	if claimedAt, exists := g.claimed[paymentRequestID]; exists && now.Sub(claimedAt) <= g.ttl {
		logging.Infof("Duplicate payment webhook - payment_request: %s, first seen at: %v", paymentRequestID, claimedAt)
		return false, nil
	}

	g.claimed[paymentRequestID] = now
	return true, nil
}

// Release drops the claim on paymentRequestID
func (g *MemoryGuard) Release(_ context.Context, paymentRequestID string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.claimed, paymentRequestID)
	return nil
}

func (g *MemoryGuard) startCleanupRoutine() {
	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCleanup:
			return
		}
	}
}

func (g *MemoryGuard) cleanup() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	initialCount := len(g.claimed)

	for id, claimedAt := range g.claimed {
		if now.Sub(claimedAt) > g.ttl {
			delete(g.claimed, id)
		}
	}

	if cleaned := initialCount - len(g.claimed); cleaned > 0 {
		logging.Debugf("Payment guard cleanup: removed %d expired claims, remaining: %d", cleaned, len(g.claimed))
	}
}

// Len returns the number of live claims
func (g *MemoryGuard) Len() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.claimed)
}

// Stop ends the cleanup goroutine
func (g *MemoryGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stopCleanup) })
}
