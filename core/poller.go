package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raid-guild/payment-watcher-go/registry"
	"github.com/raid-guild/payment-watcher-go/resolver"
	"github.com/raid-guild/payment-watcher-go/telemetry"
	"github.com/raid-guild/payment-watcher-go/types"
)

var (
	// ErrCycleFailed means a whole poll cycle failed and the next one is
	// scheduled after the backoff interval.
	ErrCycleFailed = errors.New("poll cycle failed")

	// ErrAlreadyStarted is returned by Start on a running poller.
	ErrAlreadyStarted = errors.New("poller already started")
)

// State is the scheduler state.
type State int32

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

// PollerConfig is the configuration for the poller.
type PollerConfig struct {
	// Interval is the delay between cycles.
	Interval time.Duration
	// BackoffInterval replaces Interval after a failed cycle.
	BackoffInterval time.Duration
	// RequestTimeout bounds every ledger call.
	RequestTimeout time.Duration
	// SignatureLimit is how many recent signatures are fetched per reference.
	SignatureLimit int
	// Concurrency bounds the references checked at once.
	Concurrency int
	// MaxUnresolvedAttempts fails a request after that many cycles where
	// signatures existed but none resolved. Zero disables it.
	MaxUnresolvedAttempts int
	Verify                VerifyConfig
}

// DefaultPollerConfig returns the default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:        10 * time.Second,
		BackoffInterval: 30 * time.Second,
		RequestTimeout:  10 * time.Second,
		SignatureLimit:  5,
		Concurrency:     8,
		Verify:          VerifyConfig{RequireAmount: true},
	}
}

// Poller periodically checks every watched reference against the ledger.
type Poller struct {
	config   PollerConfig
	registry *registry.Registry
	ledger   LedgerClient
	recorder *Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	warm     registry.PendingLister
	now      func() time.Time

	state atomic.Int32

	mu         sync.Mutex
	unresolved map[string]int

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPoller creates a new poller.
func NewPoller(c PollerConfig, reg *registry.Registry, ledger LedgerClient, recorder *Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *Poller {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.SignatureLimit <= 0 {
		c.SignatureLimit = 1
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = c.Interval
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		config:     c,
		registry:   reg,
		ledger:     ledger,
		recorder:   recorder,
		metrics:    metrics,
		logger:     logger.With("component", "poller"),
		now:        time.Now,
		unresolved: make(map[string]int),
	}
}

// WarmFrom sets the store the registry is warmed from when the poller starts.
func (p *Poller) WarmFrom(l registry.PendingLister) {
	p.warm = l
}

// State returns the current scheduler state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Start runs poll cycles in the background until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return ErrAlreadyStarted
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(ctx, p.stop, p.done)
	return nil
}

// Stop halts the poller. An in-flight cycle finishes before Stop returns.
func (p *Poller) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}
	close(p.stop)
	<-p.done
	p.running = false
}

func (p *Poller) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// Warm the registry before the first cycle
	if p.warm != nil {
		for {
			_, err := p.registry.Warm(ctx, p.warm)
			if err == nil {
				break
			}
			p.logger.Error("failed to warm registry", "error", err)
			if !p.sleep(ctx, stop, p.config.BackoffInterval) {
				return
			}
		}
	}

	for {
		wait := p.config.Interval
		if err := p.RunCycle(ctx); err != nil {
			p.logger.Warn("poll cycle failed", "error", err)
			if errors.Is(err, ErrCycleFailed) {
				wait = p.config.BackoffInterval
			}
		}
		if !p.sleep(ctx, stop, wait) {
			return
		}
	}
}

// sleep waits for d and reports false if the poller should halt instead.
func (p *Poller) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunCycle performs one pass over the registry. A failure checking one
// reference never prevents the others from being checked.
func (p *Poller) RunCycle(ctx context.Context) error {
	p.state.Store(int32(StatePolling))
	defer p.state.Store(int32(StateIdle))

	start := p.now()

	// Check the ledger is reachable
	hctx, cancel := p.callContext(ctx)
	err := p.ledger.Health(hctx)
	cancel()
	if err != nil {
		p.metrics.LedgerError(ctx, "getHealth")
		p.metrics.Cycle(ctx, p.registry.Len(), time.Since(start), true)
		return fmt.Errorf("%w: ledger unhealthy: %v", ErrCycleFailed, err)
	}

	// Drop references that expired since the last cycle
	snapshot := p.registry.Snapshot()
	active := make([]types.WatchedReference, 0, len(snapshot))
	for _, w := range snapshot {
		if w.Expired(start) {
			p.registry.Remove(w.Reference)
			p.forget(w.Reference)
			p.logger.Info("reference expired, no longer watched", "reference", w.Reference)
			continue
		}
		active = append(active, w)
	}

	// Check every reference with bounded concurrency
	var failures atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)
	for _, w := range active {
		g.Go(func() error {
			if err := p.checkReference(ctx, w); err != nil {
				failures.Add(1)
				p.logger.Warn("failed to check reference", "reference", w.Reference, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := len(active) > 0 && int(failures.Load()) == len(active)
	p.metrics.Cycle(ctx, len(active), time.Since(start), failed)
	p.logger.Debug("poll cycle finished", "references", len(active), "failures", failures.Load(), "took", time.Since(start))

	if failed {
		return fmt.Errorf("%w: all %d references failed", ErrCycleFailed, len(active))
	}
	return nil
}

// checkReference looks for a settling transfer among the reference's
// signatures, oldest first. The first verified signature is canonical.
func (p *Poller) checkReference(ctx context.Context, w types.WatchedReference) error {
	logger := p.logger.With("reference", w.Reference)

	// List the signatures involving the reference
	lctx, cancel := p.callContext(ctx)
	signatures, err := p.ledger.ListSignatures(lctx, w.Reference, p.config.SignatureLimit)
	cancel()
	if err != nil {
		p.metrics.LedgerError(ctx, "getSignaturesForAddress")
		return fmt.Errorf("failed to list signatures: %w", err)
	}
	if len(signatures) == 0 {
		return nil
	}

	res, err := resolver.ForReference(w)
	if err != nil {
		return err
	}

	var (
		failedSignature string
		lookupErr       error
		invisible       bool
	)
	for i := len(signatures) - 1; i >= 0; i-- {
		signature := signatures[i].Signature

		// Fetch the transaction
		tctx, cancel := p.callContext(ctx)
		tx, err := p.ledger.GetTransaction(tctx, signature)
		cancel()
		if err != nil {
			p.metrics.LedgerError(ctx, "getTransaction")
			lookupErr = fmt.Errorf("failed to get transaction %s: %w", signature, err)
			continue
		}
		if tx == nil {
			logger.Debug("transaction not yet available", "signature", signature, "reason", types.InvalidReasonTransactionMissing)
			invisible = true
			continue
		}

		// Resolve the transferred amount
		resolution, err := res.Resolve(tx)
		switch {
		case errors.Is(err, resolver.ErrTransactionFailed):
			if failedSignature == "" {
				failedSignature = signature
			}
			continue
		case errors.Is(err, resolver.ErrNoTransfer):
			continue
		case err != nil:
			logger.Warn("failed to resolve transfer", "signature", signature, "error", err)
			continue
		}

		// Verify the transfer matches the request
		verdict := Verify(p.config.Verify, w, tx, resolution)
		if !verdict.IsValid {
			logger.Info("transfer rejected", "signature", signature, "reason", verdict.InvalidReason)
			continue
		}

		// Record the settlement
		result, err := p.recorder.Record(ctx, signature, w, resolution)
		if err != nil {
			return err
		}
		if result.Outcome == OutcomeNotPending || result.Notified {
			p.unwatch(w.Reference)
		}
		return nil
	}

	// A lookup error leaves the outcome unknown for this cycle
	if lookupErr != nil {
		return lookupErr
	}

	// A signature the ledger cannot return yet may still settle the request
	if invisible {
		return nil
	}

	// Fail the request when its only activity is failed transactions
	if failedSignature != "" {
		return p.fail(ctx, w.Reference, failedSignature, types.InvalidReasonTransactionFailed)
	}

	// Give up on references whose signatures never resolve
	if p.config.MaxUnresolvedAttempts > 0 && p.bump(w.Reference) >= p.config.MaxUnresolvedAttempts {
		return p.fail(ctx, w.Reference, "", types.InvalidReasonUnresolvable)
	}
	return nil
}

func (p *Poller) fail(ctx context.Context, reference, signature string, reason types.InvalidReason) error {
	result, err := p.recorder.Fail(ctx, reference, signature, reason)
	if err != nil {
		return err
	}
	if result.Outcome == OutcomeNotPending || result.Notified {
		p.unwatch(reference)
	}
	return nil
}

func (p *Poller) unwatch(reference string) {
	p.registry.Remove(reference)
	p.forget(reference)
}

func (p *Poller) bump(reference string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unresolved[reference]++
	return p.unresolved[reference]
}

func (p *Poller) forget(reference string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.unresolved, reference)
}

func (p *Poller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.RequestTimeout)
}
