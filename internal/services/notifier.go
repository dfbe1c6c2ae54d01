package services

import (
	"context"
	"fmt"
	"html"
	"math"
	"sync"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/pkg/logging"
)

// Notification kinds used as metric labels
const (
	KindInvite  = "invite"
	KindRenewal = "renewal"
)

// Dispatcher runs fire-and-forget sends after the engine lock is released.
// Failures are logged and counted; callers never observe them.
type Dispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher; timeout bounds each send
func NewDispatcher(timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{timeout: timeout, metrics: m}
}

// Go runs fn on its own goroutine with a fresh timeout context
func (d *Dispatcher) Go(kind string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("Notification panicked - kind: %s, panic: %v", kind, r)
				d.metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := fn(ctx)
		d.metrics.NotificationsTotal.WithLabelValues(kind, metrics.Result(err)).Inc()
		if err != nil {
			logging.Errorf("Notification failed - kind: %s, error: %v", kind, err)
		}
	}()
}

// Wait blocks until every dispatched send has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// SubscriberNotifier delivers lifecycle messages to subscribers
type SubscriberNotifier interface {
	DeliverInvite(identity int64, invite InviteHandle, accessUntil time.Time)
	PromptRenewal(identity int64)
}

// Notifier renders lifecycle messages and sends them through the dispatcher
type Notifier struct {
	platform   ChatPlatform
	dispatcher *Dispatcher
	baseURL    string
	priceINR   int
	location   *time.Location
	now        func() time.Time
}

// NewNotifier creates a notifier
func NewNotifier(platform ChatPlatform, dispatcher *Dispatcher, baseURL string, priceINR int, location *time.Location) *Notifier {
	if location == nil {
		location = time.UTC
	}
	return &Notifier{
		platform:   platform,
		dispatcher: dispatcher,
		baseURL:    baseURL,
		priceINR:   priceINR,
		location:   location,
		now:        time.Now,
	}
}

// DeliverInvite sends the join link to a subscriber who just paid
func (n *Notifier) DeliverInvite(identity int64, invite InviteHandle, accessUntil time.Time) {
	text := n.inviteMessage(invite, accessUntil)
	n.dispatcher.Go(KindInvite, func(ctx context.Context) error {
		if err := n.platform.SendDirectMessage(ctx, identity, text); err != nil {
			return fmt.Errorf("deliver invite to %d: %w", identity, err)
		}
		logging.Infof("Invite delivered - identity: %d", identity)
		return nil
	})
}

// PromptRenewal tells an expired subscriber how to pay again
func (n *Notifier) PromptRenewal(identity int64) {
	text := n.renewalMessage(identity)
	n.dispatcher.Go(KindRenewal, func(ctx context.Context) error {
		if err := n.platform.SendDirectMessage(ctx, identity, text); err != nil {
			return fmt.Errorf("renewal prompt to %d: %w", identity, err)
		}
		logging.Infof("Renewal prompt sent - identity: %d", identity)
		return nil
	})
}

func (n *Notifier) inviteMessage(invite InviteHandle, accessUntil time.Time) string {
	minutes := int(math.Ceil(invite.ExpiresAt.Sub(n.now()).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	days := int(math.Round(accessUntil.Sub(n.now()).Hours() / 24))

	return fmt.Sprintf(
		"✅ <b>Payment received!</b>\n\n"+
			"Here is your private invite link (single use, expires in %d min):\n%s\n\n"+
			"Your access is valid for %d days, until %s.",
		minutes,
		html.EscapeString(invite.Link),
		days,
		html.EscapeString(accessUntil.In(n.location).Format("02 Jan 2006 15:04 MST")),
	)
}

func (n *Notifier) renewalMessage(identity int64) string {
	return fmt.Sprintf(
		"⏰ <b>Your subscription has expired</b> and your channel access was removed.\n\n"+
			"Renew for ₹%d here:\n%s",
		n.priceINR,
		html.EscapeString(PayURL(n.baseURL, identity)),
	)
}
