package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/payment-watcher-go/notify"
	"github.com/raid-guild/payment-watcher-go/registry"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/types"
)

type pollerFixture struct {
	poller   *Poller
	ledger   *fakeLedger
	registry *registry.Registry
	store    *store.MemoryStore
	notifier *notify.MemoryNotifier
}

func setupPoller(t *testing.T, c PollerConfig, requests ...types.PaymentRequest) pollerFixture {
	t.Helper()

	s := store.NewMemoryStore()
	reg := registry.New(discardLogger())
	for _, req := range requests {
		require.NoError(t, s.CreateRequest(context.Background(), req))
		reg.Add(req.Watched())
	}
	n := notify.NewMemoryNotifier(discardLogger(), notify.WithHistory(100))
	ledger := newFakeLedger()
	recorder := NewRecorder(s, calculator(), n, nil, discardLogger())

	return pollerFixture{
		poller:   NewPoller(c, reg, ledger, recorder, nil, discardLogger()),
		ledger:   ledger,
		registry: reg,
		store:    s,
		notifier: n,
	}
}

func testConfig() PollerConfig {
	c := DefaultPollerConfig()
	c.Interval = 10 * time.Millisecond
	c.BackoffInterval = 20 * time.Millisecond
	c.RequestTimeout = 100 * time.Millisecond
	return c
}

func TestPoller_RunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("settles a matching transfer", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))

		require.NoError(t, f.poller.RunCycle(ctx))

		settlements := f.store.Settlements()
		require.Len(t, settlements, 1)
		assert.Equal(t, "sig-1", settlements[0].Signature)
		assert.Equal(t, "50", settlements[0].GrossAmount.String())

		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusConfirmed, req.Status)

		events := f.notifier.Published(reference)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventTypeConfirmed, events[0].Type)

		_, watched := f.registry.Get(reference)
		assert.False(t, watched)
	})

	t.Run("no signatures leaves the reference watched", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))

		require.NoError(t, f.poller.RunCycle(ctx))

		_, watched := f.registry.Get(reference)
		assert.True(t, watched)
		assert.Empty(t, f.store.Settlements())
		assert.Equal(t, 0, f.ledger.count("getTransaction"))
	})

	t.Run("same signature across cycles settles once", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))

		for i := 0; i < 5; i++ {
			require.NoError(t, f.poller.RunCycle(ctx))
			f.registry.Add(pendingRequest("50.00").Watched())
		}

		assert.Len(t, f.store.Settlements(), 1)
		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusConfirmed, req.Status)
	})

	t.Run("oldest verified signature is canonical", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-old", "50000000"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-new", "50000000"))

		require.NoError(t, f.poller.RunCycle(ctx))

		settlements := f.store.Settlements()
		require.Len(t, settlements, 1)
		assert.Equal(t, "sig-old", settlements[0].Signature)
	})

	t.Run("underpayment stays pending", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "10000000"))

		require.NoError(t, f.poller.RunCycle(ctx))

		assert.Empty(t, f.store.Settlements())
		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusPending, req.Status)
		_, watched := f.registry.Get(reference)
		assert.True(t, watched)
	})

	t.Run("failed transaction fails the request", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, failedTransfer("sig-1"))

		require.NoError(t, f.poller.RunCycle(ctx))

		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusFailed, req.Status)
		assert.Empty(t, f.store.Settlements())

		events := f.notifier.Published(reference)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventTypeFailed, events[0].Type)
		assert.Equal(t, "sig-1", events[0].Signature)
	})

	t.Run("failed transaction followed by a payment settles", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, failedTransfer("sig-1"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-2", "50000000"))

		require.NoError(t, f.poller.RunCycle(ctx))

		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusConfirmed, req.Status)
	})

	t.Run("transaction not yet visible", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))
		f.ledger.getHook = func(ctx context.Context, signature string) (*types.Transaction, error) {
			return nil, nil
		}

		require.NoError(t, f.poller.RunCycle(ctx))

		assert.Empty(t, f.store.Settlements())
		_, watched := f.registry.Get(reference)
		assert.True(t, watched)
	})

	t.Run("failed attempt with a payment not yet visible stays pending", func(t *testing.T) {
		c := testConfig()
		c.MaxUnresolvedAttempts = 1
		f := setupPoller(t, c, pendingRequest("50.00"))
		f.ledger.addTransfer(reference, failedTransfer("sig-1"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-2", "50000000"))

		var visible atomic.Bool
		f.ledger.getHook = func(ctx context.Context, signature string) (*types.Transaction, error) {
			if signature == "sig-2" && !visible.Load() {
				return nil, nil
			}
			f.ledger.mu.Lock()
			defer f.ledger.mu.Unlock()
			return f.ledger.transactions[signature], nil
		}

		require.NoError(t, f.poller.RunCycle(ctx))

		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusPending, req.Status)
		assert.Empty(t, f.notifier.Published(reference))
		_, watched := f.registry.Get(reference)
		assert.True(t, watched)

		visible.Store(true)
		require.NoError(t, f.poller.RunCycle(ctx))

		req, err = f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusConfirmed, req.Status)
		settlements := f.store.Settlements()
		require.Len(t, settlements, 1)
		assert.Equal(t, "sig-2", settlements[0].Signature)
	})

	t.Run("paying the quoted total nets the requested amount", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "51750000"))

		require.NoError(t, f.poller.RunCycle(ctx))

		settlements := f.store.Settlements()
		require.Len(t, settlements, 1)
		assert.Equal(t, "51.75", settlements[0].GrossAmount.String())
		assert.Equal(t, "1.75", settlements[0].FeeAmount.String())
		assert.Equal(t, "50", settlements[0].NetAmount.String())

		events := f.notifier.Published(reference)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].NetAmount)
		assert.Equal(t, "50", events[0].NetAmount.String())
	})

	t.Run("slow reference does not block the others", func(t *testing.T) {
		other := pendingRequest("50.00")
		other.Reference = "RefSlow"
		f := setupPoller(t, testConfig(), pendingRequest("50.00"), other)
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))
		f.ledger.listHook = func(ctx context.Context, address string) ([]types.SignatureInfo, error) {
			if address == "RefSlow" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			f.ledger.mu.Lock()
			defer f.ledger.mu.Unlock()
			return f.ledger.signatures[address], nil
		}

		require.NoError(t, f.poller.RunCycle(ctx))

		require.Len(t, f.store.Settlements(), 1)
		_, watched := f.registry.Get("RefSlow")
		assert.True(t, watched)
	})

	t.Run("every reference failing fails the cycle", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.listHook = func(ctx context.Context, address string) ([]types.SignatureInfo, error) {
			return nil, errors.New("connection refused")
		}

		err := f.poller.RunCycle(ctx)
		assert.ErrorIs(t, err, ErrCycleFailed)
	})

	t.Run("unhealthy ledger fails the cycle", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.healthHook = func(ctx context.Context) error {
			return errors.New("node is behind")
		}

		err := f.poller.RunCycle(ctx)
		assert.ErrorIs(t, err, ErrCycleFailed)
		assert.Equal(t, 0, f.ledger.count("getSignaturesForAddress"))
	})

	t.Run("expired reference is dropped", func(t *testing.T) {
		req := pendingRequest("50.00")
		req.ExpiresAt = time.Now().Add(-time.Minute)
		f := setupPoller(t, testConfig(), req)

		require.NoError(t, f.poller.RunCycle(ctx))

		_, watched := f.registry.Get(reference)
		assert.False(t, watched)
		assert.Equal(t, 0, f.ledger.count("getSignaturesForAddress"))
	})

	t.Run("unresolved signatures fail after the attempt budget", func(t *testing.T) {
		c := testConfig()
		c.MaxUnresolvedAttempts = 2
		f := setupPoller(t, c, pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "10000000"))

		require.NoError(t, f.poller.RunCycle(ctx))
		req, err := f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusPending, req.Status)

		require.NoError(t, f.poller.RunCycle(ctx))
		req, err = f.store.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusFailed, req.Status)

		events := f.notifier.Published(reference)
		require.Len(t, events, 1)
		assert.Equal(t, string(types.InvalidReasonUnresolvable), events[0].Reason)
	})
}

func TestPoller_StartStop(t *testing.T) {

	t.Run("settles in the background and stops", func(t *testing.T) {
		f := setupPoller(t, testConfig())
		req := pendingRequest("50.00")
		require.NoError(t, f.store.CreateRequest(context.Background(), req))
		f.poller.WarmFrom(f.store)
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))

		require.NoError(t, f.poller.Start(context.Background()))
		assert.ErrorIs(t, f.poller.Start(context.Background()), ErrAlreadyStarted)

		assert.Eventually(t, func() bool {
			return len(f.store.Settlements()) == 1
		}, time.Second, 5*time.Millisecond)

		f.poller.Stop()
		assert.Equal(t, StateIdle, f.poller.State())

		calls := f.ledger.count("getHealth")
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, calls, f.ledger.count("getHealth"))
	})

	t.Run("stop waits for the in-flight cycle", func(t *testing.T) {
		f := setupPoller(t, testConfig(), pendingRequest("50.00"))
		f.ledger.addTransfer(reference, usdcTransfer("sig-1", "50000000"))

		entered := make(chan struct{})
		release := make(chan struct{})
		f.ledger.listHook = func(ctx context.Context, address string) ([]types.SignatureInfo, error) {
			select {
			case <-entered:
			default:
				close(entered)
			}
			<-release
			f.ledger.mu.Lock()
			defer f.ledger.mu.Unlock()
			return f.ledger.signatures[address], nil
		}
		c := testConfig()
		c.RequestTimeout = time.Second
		f.poller.config = c

		require.NoError(t, f.poller.Start(context.Background()))
		<-entered

		stopped := make(chan struct{})
		go func() {
			f.poller.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
			t.Fatal("stop returned before the cycle finished")
		case <-time.After(30 * time.Millisecond):
		}

		close(release)
		<-stopped
		assert.Len(t, f.store.Settlements(), 1)
	})

	t.Run("stop without start", func(t *testing.T) {
		f := setupPoller(t, testConfig())
		f.poller.Stop()
	})
}
