package minting

import (
	"context"
	"errors"
	"sync"
	"time"

	"nftmint/internal/nft"
	"nftmint/internal/stats"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	ErrNotConnected        = errors.New("wallet not connected")
	ErrWrongNetwork        = errors.New("wallet is on the wrong network")
	ErrMintInProgress      = errors.New("a mint is already in progress")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
)

// Target is what a mint attempt runs against.
type Target struct {
	Client  nft.Client
	Account common.Address
}

// Gate decides whether minting may start and against which handle.
type Gate interface {
	MintTarget() (Target, error)
}

// StatsRefresher is invoked once per confirmed mint.
type StatsRefresher interface {
	Refresh(ctx context.Context) (stats.Stats, error)
}

// Signal names what settled an attempt.
type Signal int

const (
	SignalNone Signal = iota
	SignalReceipt
	SignalEvent
	SignalTimeout
)

func (s Signal) String() string {
	switch s {
	case SignalReceipt:
		return "receipt"
	case SignalEvent:
		return "event"
	case SignalTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Transition describes one status change.
type Transition struct {
	From   Status
	To     Status
	Reason Reason
	Signal Signal
	TxHash common.Hash
	Err    error
}

// State is a snapshot of the workflow.
type State struct {
	Status    Status
	Reason    Reason
	TxHash    common.Hash
	Err       error
	Exhausted bool
}

type Config struct {
	Gate  Gate
	Stats StatsRefresher
	// Clock drives the confirmation timeout. Defaults to the wall clock.
	Clock clock.Clock
	// ConfirmTimeout bounds the wait for a pending transaction. Zero waits
	// indefinitely.
	ConfirmTimeout time.Duration
	OnTransition   func(Transition)
}

// Workflow is the mint state machine. It owns the minting status; every
// other component reads it through State.
type Workflow struct {
	cfg Config

	mu        sync.Mutex
	status    Status
	reason    Reason
	lastErr   error
	txHash    common.Hash
	exhausted bool
	current   *attempt

	// queue holds transitions not yet delivered to OnTransition, in the
	// order they happened. emitMu admits a single drainer.
	queue  []Transition
	emitMu sync.Mutex
}

// attempt is one accepted mint. Its latch admits exactly one terminal
// transition no matter how many completion signals arrive.
type attempt struct {
	account common.Address
	latch   sync.Once
	done    chan struct{}

	// eventSeen and eventTx are guarded by Workflow.mu.
	eventSeen bool
	eventTx   common.Hash
}

// matches reports whether an event carrying tx belongs to the transaction
// hash. Events without a hash are correlated by account only.
func matches(tx, hash common.Hash) bool {
	return tx == (common.Hash{}) || tx == hash
}

func New(cfg Config) *Workflow {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Workflow{cfg: cfg}
}

// State returns the current status.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		Status:    w.status,
		Reason:    w.reason,
		TxHash:    w.txHash,
		Err:       w.lastErr,
		Exhausted: w.exhausted,
	}
}

// Mint starts a new attempt and returns once the wallet has accepted the
// transaction. Confirmation is reconciled in the background; use Wait to
// block on it. While an attempt is in flight Mint does nothing and returns
// ErrMintInProgress.
func (w *Workflow) Mint(ctx context.Context) (common.Hash, error) {
	w.mu.Lock()
	if w.status.InFlight() {
		w.mu.Unlock()
		return common.Hash{}, ErrMintInProgress
	}
	if w.exhausted {
		w.mu.Unlock()
		return common.Hash{}, nft.ErrSupplyExhausted
	}
	target, err := w.cfg.Gate.MintTarget()
	if err != nil {
		w.mu.Unlock()
		return common.Hash{}, err
	}

	if w.status != Idle {
		w.record(Transition{From: w.status, To: Idle})
	}
	a := &attempt{account: target.Account, done: make(chan struct{})}
	w.current = a
	w.status = Submitting
	w.reason = ReasonNone
	w.lastErr = nil
	w.txHash = common.Hash{}
	w.record(Transition{From: Idle, To: Submitting})
	w.mu.Unlock()
	w.emit()

	pending, err := target.Client.Mint(ctx)
	if err != nil {
		reason := Classify(err)
		log.Infof("Mint by %s failed before submission (%s): %v", target.Account.Hex(), reason, err)
		w.settle(ctx, a, Failed, reason, err, SignalNone)
		return common.Hash{}, err
	}

	hash := pending.Hash()
	w.mu.Lock()
	w.status = PendingConfirmation
	w.txHash = hash
	seen := a.eventSeen && matches(a.eventTx, hash)
	w.record(Transition{From: Submitting, To: PendingConfirmation, TxHash: hash})
	w.mu.Unlock()
	w.emit()

	// The event may already have fired while the wallet was still returning
	// the handle.
	if seen {
		w.settle(ctx, a, Confirmed, ReasonNone, nil, SignalEvent)
		return hash, nil
	}

	var timeout <-chan time.Time
	if w.cfg.ConfirmTimeout > 0 {
		timeout = w.cfg.Clock.TickAfter(w.cfg.ConfirmTimeout)
	}
	go w.awaitReceipt(context.WithoutCancel(ctx), a, pending, timeout)

	return hash, nil
}

func (w *Workflow) awaitReceipt(ctx context.Context, a *attempt, pending nft.PendingTx, timeout <-chan time.Time) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		receipt *types.Receipt
		err     error
	}
	res := make(chan result, 1)
	go func() {
		r, err := pending.Wait(ctx)
		res <- result{receipt: r, err: err}
	}()

	select {
	case out := <-res:
		if out.err != nil {
			w.settle(ctx, a, Failed, classifyWait(out.err), out.err, SignalReceipt)
			return
		}
		w.settle(ctx, a, Confirmed, ReasonNone, nil, SignalReceipt)

	case <-timeout:
		w.settle(ctx, a, Failed, ReasonTimeout, ErrConfirmationTimeout, SignalTimeout)

	case <-a.done:
	}
}

// HandleEvent feeds a mint notification for the session account into the
// workflow. It reports whether the event settled the current attempt.
func (w *Workflow) HandleEvent(ctx context.Context, ev nft.MintEvent) bool {
	w.mu.Lock()
	a := w.current
	if a == nil || ev.Recipient != a.account {
		w.mu.Unlock()
		return false
	}
	switch w.status {
	case Submitting:
		a.eventSeen = true
		a.eventTx = ev.TxHash
		w.mu.Unlock()
		return false
	case PendingConfirmation:
		if !matches(ev.TxHash, w.txHash) {
			w.mu.Unlock()
			return false
		}
		w.mu.Unlock()
		return w.settle(ctx, a, Confirmed, ReasonNone, nil, SignalEvent)
	default:
		w.mu.Unlock()
		return false
	}
}

// Wait blocks until the current attempt is settled or ctx ends.
func (w *Workflow) Wait(ctx context.Context) (State, error) {
	w.mu.Lock()
	a := w.current
	w.mu.Unlock()
	if a == nil {
		return w.State(), nil
	}

	select {
	case <-a.done:
		return w.State(), nil
	case <-ctx.Done():
		return w.State(), ctx.Err()
	}
}

// settle performs the terminal transition for a, once. A confirmed attempt
// triggers exactly one stats refresh.
func (w *Workflow) settle(ctx context.Context, a *attempt, to Status, reason Reason, err error, sig Signal) bool {
	won := false
	a.latch.Do(func() {
		won = true

		w.mu.Lock()
		hash := w.txHash
		if w.current == a {
			w.record(Transition{From: w.status, To: to, Reason: reason, Signal: sig, TxHash: hash, Err: err})
			w.status = to
			w.reason = reason
			w.lastErr = err
			if reason == ReasonSupplyExhausted {
				w.exhausted = true
			}
		}
		w.mu.Unlock()
		close(a.done)

		log.Infof("Mint %s settled as %s via %s", hash.Hex(), to, sig)
		w.emit()

		if to == Confirmed && w.cfg.Stats != nil {
			if _, err := w.cfg.Stats.Refresh(ctx); err != nil {
				log.Warnf("Stats refresh after mint %s failed: %v", hash.Hex(), err)
			}
		}
	})
	return won
}

// record queues t for delivery. Caller holds w.mu.
func (w *Workflow) record(t Transition) {
	if w.cfg.OnTransition != nil {
		w.queue = append(w.queue, t)
	}
}

// emit drains the transition queue. Whoever holds emitMu delivers every
// queued transition, so a caller may return before its own transitions are
// delivered by a concurrent drainer.
func (w *Workflow) emit() {
	for {
		if !w.emitMu.TryLock() {
			return
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			t := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			w.cfg.OnTransition(t)
		}
		w.emitMu.Unlock()

		w.mu.Lock()
		empty := len(w.queue) == 0
		w.mu.Unlock()
		if empty {
			return
		}
	}
}
