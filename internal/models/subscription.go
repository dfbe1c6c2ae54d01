package models

import (
	"sort"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscriber record
type SubscriptionStatus string

const (
	StatusActive  SubscriptionStatus = "active"
	StatusExpired SubscriptionStatus = "expired"
)

// Valid reports whether s is one of the known states
func (s SubscriptionStatus) Valid() bool {
	return s == StatusActive || s == StatusExpired
}

// Subscription is the persisted record for one subscriber
// Timestamps are RFC 3339 strings in the service timezone; ExpiryTS is epoch seconds.
type Subscription struct {
	ExpiryTS      int64              `json:"expiry_ts"`
	Status        SubscriptionStatus `json:"status"`
	LastPaymentAt string             `json:"last_payment_at"`
	ExpiredAt     string             `json:"expired_at,omitempty"`
}

// ExpiresAt returns the expiry instant
func (s Subscription) ExpiresAt() time.Time {
	return time.Unix(s.ExpiryTS, 0)
}

// IsDue reports whether an active record has reached its expiry at now
func (s Subscription) IsDue(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiryTS > 0 && s.ExpiryTS <= now.Unix()
}

// Subscribers maps a Telegram user ID to its record
type Subscribers map[int64]Subscription

// Clone returns an independent copy
func (s Subscribers) Clone() Subscribers {
	out := make(Subscribers, len(s))
	for id, rec := range s {
		out[id] = rec
	}
	return out
}

// IDs returns identities in ascending order
func (s Subscribers) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CountByStatus tallies records per status
func (s Subscribers) CountByStatus() map[SubscriptionStatus]int {
	counts := map[SubscriptionStatus]int{StatusActive: 0, StatusExpired: 0}
	for _, rec := range s {
		counts[rec.Status]++
	}
	return counts
}
