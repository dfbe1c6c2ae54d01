package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/internal/models"
	"channel-gate/pkg/logging"

	"github.com/google/uuid"
)

// ErrInvalidIdentity rejects non-positive subscriber IDs
var ErrInvalidIdentity = errors.New("invalid subscriber identity")

// SubscriberStore is the persistence the engine needs
type SubscriberStore interface {
	Load(ctx context.Context) (models.Subscribers, error)
	Save(ctx context.Context, subs models.Subscribers) error
}

// EngineConfig holds the subscription terms
type EngineConfig struct {
	SubscriptionPeriod time.Duration
	InviteTTL          time.Duration
	Location           *time.Location
}

// Activation is the result of a successful payment activation
type Activation struct {
	Identity     int64
	Invite       InviteHandle
	Subscription models.Subscription
}

// SweepReport summarizes one expiry sweep
type SweepReport struct {
	RunID     string `json:"run_id"`
	Due       int    `json:"due"`
	Revoked   int    `json:"revoked"`
	Failed    int    `json:"failed"`
	Invalid   int    `json:"invalid"`
	Skipped   bool   `json:"skipped"`
	Persisted bool   `json:"persisted"`
}

// Engine owns the subscription lifecycle.
// mu guards every load→mutate→save sequence; notifications run after it is released.
type Engine struct {
	mu       sync.Mutex
	sweeping atomic.Bool

	store    SubscriberStore
	issuer   Issuer
	notifier SubscriberNotifier
	alerter  Alerter
	cfg      EngineConfig
	metrics  *metrics.Metrics
}

// NewEngine wires the engine collaborators
func NewEngine(store SubscriberStore, issuer Issuer, notifier SubscriberNotifier, alerter Alerter, cfg EngineConfig, m *metrics.Metrics) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Engine{
		store:    store,
		issuer:   issuer,
		notifier: notifier,
		alerter:  alerter,
		cfg:      cfg,
		metrics:  m,
	}
}

// Activate grants identity a fresh subscription period starting at now.
// Nothing is stored when the invite cannot be issued.
func (e *Engine) Activate(ctx context.Context, identity int64, now time.Time) (Activation, error) {
	if identity <= 0 {
		e.metrics.ActivationsTotal.WithLabelValues("invalid").Inc()
		return Activation{}, ErrInvalidIdentity
	}

	invite, err := e.issuer.IssueInvite(ctx, e.cfg.InviteTTL)
	if err != nil {
		e.metrics.ActivationsTotal.WithLabelValues("error").Inc()
		logging.Errorf("Activation aborted, invite not issued - identity: %d, error: %v", identity, err)
		return Activation{}, fmt.Errorf("issue invite: %w", err)
	}

	rec := models.Subscription{
		ExpiryTS:      now.Add(e.cfg.SubscriptionPeriod).Unix(),
		Status:        models.StatusActive,
		LastPaymentAt: now.In(e.cfg.Location).Format(time.RFC3339),
	}

	if err := e.commit(ctx, identity, rec); err != nil {
		e.metrics.ActivationsTotal.WithLabelValues("error").Inc()
		logging.Errorf("Activation not persisted - identity: %d, error: %v", identity, err)
		return Activation{}, err
	}

	e.metrics.ActivationsTotal.WithLabelValues("ok").Inc()
	logging.Infof("Subscription activated - identity: %d, expires: %s", identity, rec.ExpiresAt().In(e.cfg.Location).Format(time.RFC3339))

	e.notifier.DeliverInvite(identity, invite, rec.ExpiresAt())

	return Activation{Identity: identity, Invite: invite, Subscription: rec}, nil
}

func (e *Engine) commit(ctx context.Context, identity int64, rec models.Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	if subs == nil {
		subs = models.Subscribers{}
	}
	subs[identity] = rec

	if err := e.store.Save(ctx, subs); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	e.observe(subs)
	return nil
}

// Sweep revokes every active subscription whose expiry is at or before now.
// Failed revocations stay active and are retried by the next sweep.
// A sweep started while another is running returns a report with Skipped set.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	report := SweepReport{RunID: uuid.NewString()}

	if !e.sweeping.CompareAndSwap(false, true) {
		report.Skipped = true
		logging.Warnf("Sweep skipped, another sweep is running - run_id: %s", report.RunID)
		return report, nil
	}
	defer e.sweeping.Store(false)

	start := time.Now()
	defer func() {
		e.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	revoked, err := e.sweepLocked(ctx, now, &report)
	if err != nil {
		return report, err
	}

	for _, id := range revoked {
		e.notifier.PromptRenewal(id)
	}

	logging.Infof("Sweep finished - run_id: %s, due: %d, revoked: %d, failed: %d, invalid: %d, persisted: %t",
		report.RunID, report.Due, report.Revoked, report.Failed, report.Invalid, report.Persisted)
	return report, nil
}

func (e *Engine) sweepLocked(ctx context.Context, now time.Time, report *SweepReport) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	expiredAt := now.In(e.cfg.Location).Format(time.RFC3339)
	var revoked []int64

	for _, id := range subs.IDs() {
		rec := subs[id]
		if !rec.Status.Valid() {
			report.Invalid++
			logging.Warnf("Skipping record with unknown status - run_id: %s, identity: %d, status: %q", report.RunID, id, rec.Status)
			continue
		}
		if rec.Status != models.StatusActive {
			continue
		}
		if rec.ExpiryTS <= 0 {
			report.Invalid++
			logging.Warnf("Skipping active record without expiry - run_id: %s, identity: %d", report.RunID, id)
			continue
		}
		if !rec.IsDue(now) {
			continue
		}
		report.Due++

		if err := ctx.Err(); err != nil {
			report.Failed++
			continue
		}

		if err := e.issuer.Revoke(ctx, id); err != nil {
			report.Failed++
			e.metrics.RevocationsTotal.WithLabelValues("error").Inc()
			logging.Errorf("Revocation failed, will retry next sweep - run_id: %s, identity: %d, error: %v", report.RunID, id, err)
			continue
		}
		e.metrics.RevocationsTotal.WithLabelValues("ok").Inc()

		rec.Status = models.StatusExpired
		rec.ExpiredAt = expiredAt
		subs[id] = rec
		revoked = append(revoked, id)
		report.Revoked++
	}

	if len(revoked) == 0 {
		return nil, nil
	}

	if err := e.store.Save(ctx, subs); err != nil {
		logging.Errorf("Sweep results not persisted - run_id: %s, revoked: %d, error: %v", report.RunID, len(revoked), err)
		body := fmt.Sprintf("Sweep %s revoked %d members but could not save the store: %v", report.RunID, len(revoked), err)
		if alertErr := e.alerter.Alert(context.WithoutCancel(ctx), "Expiry sweep could not persist", body); alertErr != nil {
			logging.Errorf("Failed to send alert: %v", alertErr)
		}
		return nil, fmt.Errorf("save subscribers: %w", err)
	}
	report.Persisted = true
	e.observe(subs)

	return revoked, nil
}

// Lookup returns the stored record for identity
func (e *Engine) Lookup(ctx context.Context, identity int64) (models.Subscription, bool, error) {
	if identity <= 0 {
		return models.Subscription{}, false, ErrInvalidIdentity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	subs, err := e.store.Load(ctx)
	if err != nil {
		return models.Subscription{}, false, fmt.Errorf("load subscribers: %w", err)
	}
	rec, ok := subs[identity]
	return rec, ok, nil
}

// Refresh reloads the store and republishes the status gauges
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	e.observe(subs)
	return nil
}

func (e *Engine) observe(subs models.Subscribers) {
	for status, n := range subs.CountByStatus() {
		e.metrics.SubscribersByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
