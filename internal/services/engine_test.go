package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	data    models.Subscribers
	loads   int
	saves   int
	loadErr error
	saveErr error
}

func newMemStore(initial models.Subscribers) *memStore {
	if initial == nil {
		initial = models.Subscribers{}
	}
	return &memStore{data: initial.Clone()}
}

func (s *memStore) Load(context.Context) (models.Subscribers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.data.Clone(), nil
}

func (s *memStore) Save(_ context.Context, subs models.Subscribers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.data = subs.Clone()
	return nil
}

func (s *memStore) snapshot() models.Subscribers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

type fakeIssuer struct {
	mu         sync.Mutex
	issueErr   error
	revokeErrs map[int64]error
	issued     int
	revoked    []int64
	revokeHook func(identity int64)
}

func (f *fakeIssuer) IssueInvite(_ context.Context, ttl time.Duration) (InviteHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return InviteHandle{}, f.issueErr
	}
	f.issued++
	return InviteHandle{Link: "https://t.me/+invite_link", ExpiresAt: time.Unix(0, 0).Add(ttl)}, nil
}

func (f *fakeIssuer) Revoke(_ context.Context, identity int64) error {
	if f.revokeHook != nil {
		f.revokeHook(identity)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, identity)
	return f.revokeErrs[identity]
}

func (f *fakeIssuer) revokeCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.revoked...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	invites  []int64
	renewals []int64
}

func (n *fakeNotifier) DeliverInvite(identity int64, _ InviteHandle, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invites = append(n.invites, identity)
}

func (n *fakeNotifier) PromptRenewal(identity int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.renewals = append(n.renewals, identity)
}

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

type engineFixture struct {
	engine   *Engine
	store    *memStore
	issuer   *fakeIssuer
	notifier *fakeNotifier
	alerter  *recordingAlerter
	metrics  *metrics.Metrics
}

func newEngineFixture(t *testing.T, initial models.Subscribers) *engineFixture {
	t.Helper()
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	f := &engineFixture{
		store:    newMemStore(initial),
		issuer:   &fakeIssuer{revokeErrs: map[int64]error{}},
		notifier: &fakeNotifier{},
		alerter:  &recordingAlerter{},
		metrics:  metrics.NewNop(),
	}
	f.engine = NewEngine(f.store, f.issuer, f.notifier, f.alerter, EngineConfig{
		SubscriptionPeriod: 30 * 24 * time.Hour,
		InviteTTL:          10 * time.Minute,
		Location:           ist,
	}, f.metrics)
	return f
}

var sweepNow = time.Date(2025, 3, 1, 2, 5, 0, 0, time.UTC)

func TestActivateCreatesActiveRecord(t *testing.T) {
	f := newEngineFixture(t, nil)

	act, err := f.engine.Activate(context.Background(), 42, sweepNow)
	require.NoError(t, err)

	assert.Equal(t, int64(42), act.Identity)
	assert.Equal(t, "https://t.me/+invite_link", act.Invite.Link)

	stored := f.store.snapshot()
	require.Len(t, stored, 1)
	rec := stored[42]
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, sweepNow.Add(30*24*time.Hour).Unix(), rec.ExpiryTS)
	assert.Equal(t, "2025-03-01T07:35:00+05:30", rec.LastPaymentAt)
	assert.Empty(t, rec.ExpiredAt)

	assert.Equal(t, []int64{42}, f.notifier.invites)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActivationsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubscribersByStatus.WithLabelValues("active")))
}

func TestActivateTwiceKeepsOneRecord(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Activate(ctx, 7, sweepNow)
	require.NoError(t, err)
	later := sweepNow.Add(5 * 24 * time.Hour)
	_, err = f.engine.Activate(ctx, 7, later)
	require.NoError(t, err)

	stored := f.store.snapshot()
	require.Len(t, stored, 1)
	assert.Equal(t, later.Add(30*24*time.Hour).Unix(), stored[7].ExpiryTS)
	assert.Equal(t, 2, f.issuer.issued)
}

func TestActivateWithoutInviteLeavesStoreUnchanged(t *testing.T) {
	initial := models.Subscribers{
		7: {ExpiryTS: 100, Status: models.StatusExpired, LastPaymentAt: "2024-01-01T00:00:00+05:30", ExpiredAt: "2024-02-01T00:00:00+05:30"},
	}
	f := newEngineFixture(t, initial)
	f.issuer.issueErr = errors.New("telegram down")

	_, err := f.engine.Activate(context.Background(), 7, sweepNow)
	require.Error(t, err)

	assert.Equal(t, initial, f.store.snapshot())
	assert.Zero(t, f.store.saves)
	assert.Zero(t, f.store.loads)
	assert.Empty(t, f.notifier.invites)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActivationsTotal.WithLabelValues("error")))
}

func TestActivateRejectsInvalidIdentity(t *testing.T) {
	f := newEngineFixture(t, nil)

	for _, id := range []int64{0, -5} {
		_, err := f.engine.Activate(context.Background(), id, sweepNow)
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	}
	assert.Zero(t, f.issuer.issued)
	assert.Zero(t, f.store.saves)
}

func TestActivateRenewsExpiredRecord(t *testing.T) {
	f := newEngineFixture(t, models.Subscribers{
		9: {ExpiryTS: 100, Status: models.StatusExpired, LastPaymentAt: "x", ExpiredAt: "y"},
	})

	_, err := f.engine.Activate(context.Background(), 9, sweepNow)
	require.NoError(t, err)

	rec := f.store.snapshot()[9]
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Empty(t, rec.ExpiredAt)
}

func TestActivateSaveFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.store.saveErr = errors.New("disk full")

	_, err := f.engine.Activate(context.Background(), 5, sweepNow)
	require.Error(t, err)
	assert.Empty(t, f.notifier.invites)
	assert.Empty(t, f.store.snapshot())
}

func TestSweepThreshold(t *testing.T) {
	now := sweepNow.Unix()
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: now - 1, Status: models.StatusActive},
		2: {ExpiryTS: now + 1, Status: models.StatusActive},
		3: {ExpiryTS: now, Status: models.StatusActive},
	})

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 2, report.Revoked)
	assert.True(t, report.Persisted)
	assert.False(t, report.Skipped)

	stored := f.store.snapshot()
	assert.Equal(t, models.StatusExpired, stored[1].Status)
	assert.Equal(t, "2025-03-01T07:35:00+05:30", stored[1].ExpiredAt)
	assert.Equal(t, models.StatusExpired, stored[3].Status)
	assert.Equal(t, models.Subscription{ExpiryTS: now + 1, Status: models.StatusActive}, stored[2])

	assert.ElementsMatch(t, []int64{1, 3}, f.issuer.revokeCalls())
	assert.ElementsMatch(t, []int64{1, 3}, f.notifier.renewals)
	assert.Equal(t, 1, f.store.saves)
}

func TestSweepPartialFailure(t *testing.T) {
	now := sweepNow.Unix()
	failing := models.Subscription{ExpiryTS: now - 60, Status: models.StatusActive, LastPaymentAt: "2025-01-30T07:35:00+05:30"}
	f := newEngineFixture(t, models.Subscribers{
		10: failing,
		11: {ExpiryTS: now - 60, Status: models.StatusActive},
	})
	f.issuer.revokeErrs[10] = errors.New("Bad Request: not enough rights")

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, 1, report.Failed)

	stored := f.store.snapshot()
	assert.Equal(t, failing, stored[10])
	assert.Equal(t, models.StatusExpired, stored[11].Status)
	assert.Equal(t, []int64{11}, f.notifier.renewals)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RevocationsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RevocationsTotal.WithLabelValues("ok")))
}

func TestIdleSweep(t *testing.T) {
	now := sweepNow.Unix()
	cases := map[string]models.Subscribers{
		"empty store": {},
		"nothing due": {
			1: {ExpiryTS: now + 3600, Status: models.StatusActive},
			2: {ExpiryTS: now - 3600, Status: models.StatusExpired, ExpiredAt: "earlier"},
		},
	}

	for name, initial := range cases {
		t.Run(name, func(t *testing.T) {
			f := newEngineFixture(t, initial)

			report, err := f.engine.Sweep(context.Background(), sweepNow)
			require.NoError(t, err)

			assert.Zero(t, report.Due)
			assert.False(t, report.Persisted)
			assert.Zero(t, f.store.saves)
			assert.Empty(t, f.issuer.revokeCalls())
			assert.Empty(t, f.notifier.renewals)
		})
	}
}

func TestSweepSkipsRecordsWithoutExpiry(t *testing.T) {
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: 0, Status: models.StatusActive},
		2: {ExpiryTS: -10, Status: models.StatusActive},
		3: {ExpiryTS: sweepNow.Unix() - 1, Status: models.StatusActive},
	})

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, []int64{3}, f.issuer.revokeCalls())
	assert.Equal(t, models.StatusActive, f.store.snapshot()[1].Status)
}

func TestSweepCountsUnknownStatusAsInvalid(t *testing.T) {
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: sweepNow.Unix() - 1, Status: "paused"},
		2: {ExpiryTS: sweepNow.Unix() - 1, Status: ""},
		3: {ExpiryTS: sweepNow.Unix() - 1, Status: models.StatusExpired},
	})

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Invalid)
	assert.Zero(t, report.Due)
	assert.Empty(t, f.issuer.revokeCalls())
	assert.Equal(t, models.SubscriptionStatus("paused"), f.store.snapshot()[1].Status)
}

func TestSweepIsNotReentrant(t *testing.T) {
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: sweepNow.Unix() - 1, Status: models.StatusActive},
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.issuer.revokeHook = func(int64) {
		close(entered)
		<-release
	}

	done := make(chan SweepReport)
	go func() {
		report, err := f.engine.Sweep(context.Background(), sweepNow)
		assert.NoError(t, err)
		done <- report
	}()

	<-entered
	second, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Due)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Revoked)
	assert.Len(t, f.issuer.revokeCalls(), 1)

	// the guard is released once the first sweep returns
	third, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
}

func TestConcurrentActivationsAndSweepKeepEveryUpdate(t *testing.T) {
	const activations = 50
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: sweepNow.Unix() - 1, Status: models.StatusActive},
	})

	// activations are released while the sweep is between load and save
	start := make(chan struct{})
	f.issuer.revokeHook = func(int64) {
		close(start)
		time.Sleep(20 * time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < activations; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			<-start
			_, err := f.engine.Activate(context.Background(), id, sweepNow)
			assert.NoError(t, err)
		}(int64(1000 + i))
	}

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, 1, report.Revoked)
	assert.True(t, report.Persisted)

	subs := f.store.snapshot()
	require.Len(t, subs, activations+1)
	assert.Equal(t, models.StatusExpired, subs[1].Status)
	for i := 0; i < activations; i++ {
		rec, ok := subs[int64(1000+i)]
		require.True(t, ok, "identity %d lost", 1000+i)
		assert.Equal(t, models.StatusActive, rec.Status)
	}
	assert.Len(t, f.notifier.invites, activations)
	assert.Equal(t, []int64{1}, f.notifier.renewals)
}

func TestSweepSaveFailureAlertsOperator(t *testing.T) {
	f := newEngineFixture(t, models.Subscribers{
		1: {ExpiryTS: sweepNow.Unix() - 1, Status: models.StatusActive},
	})
	f.store.saveErr = errors.New("read-only file system")

	report, err := f.engine.Sweep(context.Background(), sweepNow)
	require.Error(t, err)

	assert.False(t, report.Persisted)
	assert.Equal(t, 1, report.Revoked)
	assert.Empty(t, f.notifier.renewals)
	assert.Equal(t, []string{"Expiry sweep could not persist"}, f.alerter.subjects)
}

func TestSweepLoadFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.store.loadErr = errors.New("connection refused")

	_, err := f.engine.Sweep(context.Background(), sweepNow)
	require.Error(t, err)
	assert.Empty(t, f.issuer.revokeCalls())
}

func TestLookup(t *testing.T) {
	rec := models.Subscription{ExpiryTS: 123, Status: models.StatusActive, LastPaymentAt: "p"}
	f := newEngineFixture(t, models.Subscribers{5: rec})
	ctx := context.Background()

	got, found, err := f.engine.Lookup(ctx, 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rec, got)

	_, found, err = f.engine.Lookup(ctx, 6)
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = f.engine.Lookup(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}
