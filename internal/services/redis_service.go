package services

import (
	"context"
	"fmt"
	"time"

	"channel-gate/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a PaymentGuard shared through Redis.
// Redis errors fail open so a Redis outage never blocks activations.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a Redis backed guard
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func paymentKey(paymentRequestID string) string {
	return fmt.Sprintf("payment_request:%s", paymentRequestID)
}

// Acquire claims paymentRequestID with SETNX
func (r *RedisGuard) Acquire(ctx context.Context, paymentRequestID string) (bool, error) {
	if paymentRequestID == "" {
		return true, nil
	}

	ok, err := r.client.SetNX(ctx, paymentKey(paymentRequestID), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		logging.Warnf("Payment guard unavailable, proceeding - payment_request: %s, error: %v", paymentRequestID, err)
		return true, err
	}
	if !ok {
		logging.Infof("Duplicate payment webhook - payment_request: %s", paymentRequestID)
	}
	return ok, nil
}

// Release deletes the claim on paymentRequestID
func (r *RedisGuard) Release(ctx context.Context, paymentRequestID string) error {
	if paymentRequestID == "" {
		return nil
	}
	return r.client.Del(ctx, paymentKey(paymentRequestID)).Err()
}

// NewPaymentGuard picks Redis when a client is available
func NewPaymentGuard(client *redis.Client, ttl time.Duration) PaymentGuard {
	if client != nil {
		logging.Infof("Payment dedupe backed by Redis, ttl: %s", ttl)
		return NewRedisGuard(client, ttl)
	}
	logging.Infof("Payment dedupe kept in memory, ttl: %s", ttl)
	return NewMemoryGuard(ttl)
}
