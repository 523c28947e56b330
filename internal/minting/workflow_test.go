package minting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nftmint/internal/nft"
	"nftmint/internal/stats"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var minter = common.HexToAddress("0x00000000000000000000000000000000000000b2")

type testGate struct {
	mu     sync.Mutex
	target Target
	err    error
}

func (g *testGate) MintTarget() (Target, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target, g.err
}

func (g *testGate) Client() nft.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target.Client
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) add(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.got)+1)
	if len(r.got) > 0 {
		out = append(out, r.got[0].From)
	}
	for _, t := range r.got {
		out = append(out, t.To)
	}
	return out
}

func (r *recorder) terminal() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transition
	for _, t := range r.got {
		if t.To == Confirmed || t.To == Failed {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	chain *nft.FakeChain
	gate  *testGate
	stats *stats.Refresher
	rec   *recorder
	clock *clock.TestClock
	wf    *Workflow
}

func newHarness(t *testing.T, maxSupply uint64, timeout time.Duration) *harness {
	chain := nft.NewFakeChain(maxSupply)
	client, err := chain.Bind(minter)
	require.NoError(t, err)

	h := &harness{
		chain: chain,
		gate:  &testGate{target: Target{Client: client, Account: minter}},
		rec:   &recorder{},
		clock: clock.NewTestClock(time.Unix(1_700_000_000, 0)),
	}
	h.stats = stats.NewRefresher(h.gate)
	h.wf = New(Config{
		Gate:           h.gate,
		Stats:          h.stats,
		Clock:          h.clock,
		ConfirmTimeout: timeout,
		OnTransition:   h.rec.add,
	})
	return h
}

func (h *harness) wait(t *testing.T) State {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.wf.Wait(ctx)
	require.NoError(t, err)
	return st
}

func (h *harness) eventually(t *testing.T, want ...Status) {
	require.Eventually(t, func() bool {
		got := h.rec.statuses()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "transitions: %v", h.rec.statuses())
}

func TestMintConfirmedByReceipt(t *testing.T) {
	h := newHarness(t, 50, 0)

	hash, err := h.wf.Mint(context.Background())
	require.NoError(t, err)
	require.Equal(t, PendingConfirmation, h.wf.State().Status)
	require.Equal(t, hash, h.wf.State().TxHash)

	reads := h.chain.Reads()
	h.chain.Mine(0)

	st := h.wait(t)
	require.Equal(t, Confirmed, st.Status)
	require.Equal(t, ReasonNone, st.Reason)
	h.eventually(t, Idle, Submitting, PendingConfirmation, Confirmed)
	require.Equal(t, reads+1, h.chain.Reads())

	cur, known := h.stats.Current()
	require.True(t, known)
	require.Equal(t, stats.Stats{Minted: 1, Max: 50}, cur)
}

func TestMintWhileInFlightIsNoop(t *testing.T) {
	h := newHarness(t, 50, 0)
	ctx := context.Background()

	_, err := h.wf.Mint(ctx)
	require.NoError(t, err)

	_, err = h.wf.Mint(ctx)
	require.ErrorIs(t, err, ErrMintInProgress)
	require.Equal(t, 1, h.chain.Pending())
	require.Equal(t, PendingConfirmation, h.wf.State().Status)
}

func TestEventSettlesBeforeReceipt(t *testing.T) {
	h := newHarness(t, 50, 0)

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)
	reads := h.chain.Reads()

	h.chain.MineSilently(0)
	settled := h.wf.HandleEvent(context.Background(), nft.MintEvent{Recipient: minter, TokenID: 0})
	require.True(t, settled)
	require.Equal(t, Confirmed, h.wf.State().Status)

	// The late receipt must not produce a second terminal transition.
	h.chain.ReleaseReceipt(0)
	h.wait(t)
	time.Sleep(20 * time.Millisecond)

	h.eventually(t, Idle, Submitting, PendingConfirmation, Confirmed)
	require.Len(t, h.rec.terminal(), 1)
	require.Equal(t, SignalEvent, h.rec.terminal()[0].Signal)
	require.Equal(t, reads+1, h.chain.Reads())
}

func TestReceiptThenEventRefreshesOnce(t *testing.T) {
	h := newHarness(t, 50, 0)

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)
	reads := h.chain.Reads()

	h.chain.Mine(0)
	h.wait(t)
	require.False(t, h.wf.HandleEvent(context.Background(), nft.MintEvent{Recipient: minter}))

	h.eventually(t, Idle, Submitting, PendingConfirmation, Confirmed)
	require.Len(t, h.rec.terminal(), 1)
	require.Equal(t, reads+1, h.chain.Reads())
}

func TestEventDuringSubmissionIsRemembered(t *testing.T) {
	h := newHarness(t, 50, 0)
	h.chain.AutoMine = true

	// With AutoMine the event fires inside the client's Mint, before the
	// workflow has the transaction hash.
	h.gate.target.Client = &eventOnSubmit{Client: h.gate.target.Client, wf: h.wf}

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)

	st := h.wait(t)
	require.Equal(t, Confirmed, st.Status)
	require.Len(t, h.rec.terminal(), 1)
}

// eventOnSubmit delivers the mint event to the workflow while Mint is still
// in the Submitting state.
type eventOnSubmit struct {
	nft.Client
	wf *Workflow
}

func (e *eventOnSubmit) Mint(ctx context.Context) (nft.PendingTx, error) {
	p, err := e.Client.Mint(ctx)
	if err == nil {
		e.wf.HandleEvent(ctx, nft.MintEvent{Recipient: minter})
	}
	return p, err
}

func TestEventForOtherAccountIgnored(t *testing.T) {
	h := newHarness(t, 50, 0)

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)

	other := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	require.False(t, h.wf.HandleEvent(context.Background(), nft.MintEvent{Recipient: other}))
	require.Equal(t, PendingConfirmation, h.wf.State().Status)
}

func TestSupplyExhaustedDisablesMinting(t *testing.T) {
	h := newHarness(t, 3, 0)
	h.chain.SetMinted(3)
	ctx := context.Background()

	_, err := h.stats.Refresh(ctx)
	require.NoError(t, err)
	before, _ := h.stats.Current()
	reads := h.chain.Reads()

	_, err = h.wf.Mint(ctx)
	require.ErrorIs(t, err, nft.ErrSupplyExhausted)

	st := h.wf.State()
	require.Equal(t, Failed, st.Status)
	require.Equal(t, ReasonSupplyExhausted, st.Reason)
	require.True(t, st.Exhausted)
	require.Equal(t, "Sorry! All NFTs have already been minted.", st.Reason.Message())

	after, _ := h.stats.Current()
	require.Equal(t, before, after)
	require.Equal(t, reads, h.chain.Reads())

	_, err = h.wf.Mint(ctx)
	require.ErrorIs(t, err, nft.ErrSupplyExhausted)
	require.Equal(t, 0, h.chain.Pending())
}

func TestUserRejectionAllowsRetry(t *testing.T) {
	h := newHarness(t, 50, 0)
	ctx := context.Background()

	h.chain.FailMint(wallet.ErrUserRejected)
	_, err := h.wf.Mint(ctx)
	require.ErrorIs(t, err, wallet.ErrUserRejected)
	require.Equal(t, ReasonUserRejected, h.wf.State().Reason)
	require.False(t, h.wf.State().Exhausted)

	h.chain.FailMint(nil)
	_, err = h.wf.Mint(ctx)
	require.NoError(t, err)
	h.chain.Mine(0)
	require.Equal(t, Confirmed, h.wait(t).Status)

	h.eventually(t, Idle, Submitting, Failed, Idle, Submitting, PendingConfirmation, Confirmed)
}

func TestDroppedTransaction(t *testing.T) {
	h := newHarness(t, 50, 0)

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)
	reads := h.chain.Reads()

	h.chain.Drop(0, errors.New("transaction replaced"))
	st := h.wait(t)
	require.Equal(t, Failed, st.Status)
	require.Equal(t, ReasonDropped, st.Reason)
	require.Equal(t, reads, h.chain.Reads())
}

func TestConfirmationTimeout(t *testing.T) {
	h := newHarness(t, 50, time.Minute)

	_, err := h.wf.Mint(context.Background())
	require.NoError(t, err)

	h.clock.SetTime(h.clock.Now().Add(time.Minute))
	st := h.wait(t)
	require.Equal(t, Failed, st.Status)
	require.Equal(t, ReasonTimeout, st.Reason)
	require.ErrorIs(t, st.Err, ErrConfirmationTimeout)

	// A receipt arriving after the timeout changes nothing.
	h.chain.Mine(0)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Failed, h.wf.State().Status)
	require.Len(t, h.rec.terminal(), 1)
}

func TestGateRejectsBeforeContract(t *testing.T) {
	h := newHarness(t, 50, 0)
	h.gate.err = ErrWrongNetwork

	_, err := h.wf.Mint(context.Background())
	require.ErrorIs(t, err, ErrWrongNetwork)
	require.Equal(t, 0, h.chain.Pending())
	require.Equal(t, Idle, h.wf.State().Status)
	require.Empty(t, h.rec.statuses())
}

func TestWaitWithoutAttempt(t *testing.T) {
	h := newHarness(t, 50, 0)
	st, err := h.wf.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, Idle, st.Status)
}

func TestClassifyWait(t *testing.T) {
	require.Equal(t, ReasonUnknown, classifyWait(nft.ErrTxReverted))
	require.Equal(t, ReasonDropped, classifyWait(errors.New("not found")))
	require.Equal(t, ReasonTimeout, classifyWait(context.DeadlineExceeded))
	require.Equal(t, ReasonNone, Classify(nil))
}

func TestEventForOtherTransactionIgnored(t *testing.T) {
	h := newHarness(t, 50, 0)

	hash, err := h.wf.Mint(context.Background())
	require.NoError(t, err)

	stale := nft.MintEvent{Recipient: minter, TxHash: common.HexToHash("0x01")}
	require.False(t, h.wf.HandleEvent(context.Background(), stale))
	require.Equal(t, PendingConfirmation, h.wf.State().Status)

	require.True(t, h.wf.HandleEvent(context.Background(), nft.MintEvent{Recipient: minter, TxHash: hash}))
	require.Equal(t, Confirmed, h.wf.State().Status)
}
