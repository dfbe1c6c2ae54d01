package services

import (
	"context"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/pkg/logging"
)

// MinInviteTTL keeps invites alive long enough to reach the subscriber
const MinInviteTTL = 60 * time.Second

// InviteHandle is an issued single-use join link
type InviteHandle struct {
	Link      string
	ExpiresAt time.Time
}

// Issuer mints join credentials and revokes membership
type Issuer interface {
	IssueInvite(ctx context.Context, ttl time.Duration) (InviteHandle, error)
	Revoke(ctx context.Context, identity int64) error
}

// CredentialIssuer bounds every chat platform call with a timeout
type CredentialIssuer struct {
	platform ChatPlatform
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCredentialIssuer wraps platform
func NewCredentialIssuer(platform ChatPlatform, timeout time.Duration, m *metrics.Metrics) *CredentialIssuer {
	return &CredentialIssuer{
		platform: platform,
		timeout:  timeout,
		metrics:  m,
		now:      time.Now,
	}
}

// IssueInvite creates a one-member invite expiring ttl from now, never less than MinInviteTTL
func (i *CredentialIssuer) IssueInvite(ctx context.Context, ttl time.Duration) (InviteHandle, error) {
	if ttl < MinInviteTTL {
		ttl = MinInviteTTL
	}
	expiresAt := i.now().Add(ttl).Truncate(time.Second)

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	link, err := i.platform.CreateSingleUseInvite(ctx, expiresAt)
	i.metrics.ExternalCallDuration.WithLabelValues("telegram", "create_invite").Observe(time.Since(start).Seconds())
	if err != nil {
		return InviteHandle{}, err
	}

	return InviteHandle{Link: link, ExpiresAt: expiresAt}, nil
}

// Revoke removes identity from the channel, leaving them able to rejoin
func (i *CredentialIssuer) Revoke(ctx context.Context, identity int64) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	err := i.platform.RevokeMembership(ctx, identity)
	i.metrics.ExternalCallDuration.WithLabelValues("telegram", "revoke").Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Debugf("Revoke call failed - identity: %d, error: %v", identity, err)
	}
	return err
}
