package nft

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// FakeChain is an in-memory collection contract. Tests drive inclusion
// explicitly; with AutoMine set every accepted mint is mined immediately.
type FakeChain struct {
	mu sync.Mutex

	AutoMine bool

	minted    uint64
	maxSupply uint64
	pending   []*fakePending
	feed      event.Feed
	watchers  int

	mintErr error
	readErr error
	reads   int
	binds   int
}

// NewFakeChain returns a collection of maxSupply tokens with none minted.
func NewFakeChain(maxSupply uint64) *FakeChain {
	return &FakeChain{maxSupply: maxSupply}
}

func (f *FakeChain) Bind(account common.Address) (Client, error) {
	f.mu.Lock()
	f.binds++
	f.mu.Unlock()
	return &FakeClient{chain: f, account: account}, nil
}

// SetMinted overrides the minted counter.
func (f *FakeChain) SetMinted(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted = n
}

// FailMint makes every Mint return err until cleared with nil.
func (f *FakeChain) FailMint(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintErr = err
}

// FailReads makes supply reads return err until cleared with nil.
func (f *FakeChain) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// Reads counts CurrentSupply calls, one per stats refresh.
func (f *FakeChain) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Binds counts how many handles were built.
func (f *FakeChain) Binds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binds
}

// Watchers returns the number of live event subscriptions.
func (f *FakeChain) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers
}

// Pending returns how many mints were accepted so far.
func (f *FakeChain) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Mine includes the i-th accepted mint: the supply grows, the event fires
// and the receipt becomes available.
func (f *FakeChain) Mine(i int) {
	p := f.include(i)
	p.release(nil)
}

// MineSilently includes the i-th mint and fires the event, but keeps the
// receipt back until ReleaseReceipt is called.
func (f *FakeChain) MineSilently(i int) {
	f.include(i)
}

// ReleaseReceipt lets waiters on the i-th mint observe its receipt.
func (f *FakeChain) ReleaseReceipt(i int) {
	f.mu.Lock()
	p := f.pending[i]
	f.mu.Unlock()
	p.release(nil)
}

// Drop makes the i-th mint fail with err without being included.
func (f *FakeChain) Drop(i int, err error) {
	f.mu.Lock()
	p := f.pending[i]
	f.mu.Unlock()
	p.release(err)
}

// Emit publishes a mint event that no pending transaction produced.
func (f *FakeChain) Emit(ev MintEvent) {
	f.feed.Send(ev)
}

func (f *FakeChain) include(i int) *fakePending {
	f.mu.Lock()
	p := f.pending[i]
	if p.included {
		f.mu.Unlock()
		return p
	}
	p.included = true
	f.minted++
	tokenID := f.minted - 1
	f.mu.Unlock()

	f.feed.Send(MintEvent{Recipient: p.account, TokenID: tokenID, TxHash: p.hash})
	return p
}

// FakeClient is a FakeChain handle bound to one account.
type FakeClient struct {
	chain   *FakeChain
	account common.Address
}

func (c *FakeClient) Mint(context.Context) (PendingTx, error) {
	f := c.chain
	f.mu.Lock()
	if f.mintErr != nil {
		err := f.mintErr
		f.mu.Unlock()
		return nil, err
	}
	if f.minted+uint64(f.inFlight()) >= f.maxSupply {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: execution reverted: All NFTs have been minted", ErrSupplyExhausted)
	}
	p := &fakePending{
		hash:    fakeHash(c.account, len(f.pending)),
		account: c.account,
		done:    make(chan struct{}),
	}
	f.pending = append(f.pending, p)
	idx := len(f.pending) - 1
	auto := f.AutoMine
	f.mu.Unlock()

	if auto {
		f.Mine(idx)
	}
	return p, nil
}

// inFlight counts accepted mints not yet included. Caller holds f.mu.
func (f *FakeChain) inFlight() int {
	n := 0
	for _, p := range f.pending {
		if !p.included && !p.dropped() {
			n++
		}
	}
	return n
}

func (c *FakeClient) CurrentSupply(context.Context) (uint64, error) {
	f := c.chain
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrReadFailure, f.readErr)
	}
	return f.minted, nil
}

func (c *FakeClient) MaxSupply(context.Context) (uint64, error) {
	f := c.chain
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrReadFailure, f.readErr)
	}
	return f.maxSupply, nil
}

func (c *FakeClient) WatchMinted(_ context.Context, recipient common.Address, sink chan<- MintEvent) (event.Subscription, error) {
	f := c.chain
	events := make(chan MintEvent, 16)
	feedSub := f.feed.Subscribe(events)

	f.mu.Lock()
	f.watchers++
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer func() {
			feedSub.Unsubscribe()
			f.mu.Lock()
			f.watchers--
			f.mu.Unlock()
		}()
		for {
			select {
			case ev := <-events:
				if ev.Recipient != recipient {
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	}), nil
}

type fakePending struct {
	hash     common.Hash
	account  common.Address
	included bool

	once sync.Once
	done chan struct{}
	err  error
}

func (p *fakePending) release(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakePending) dropped() bool {
	select {
	case <-p.done:
		return p.err != nil
	default:
		return false
	}
}

func (p *fakePending) Hash() common.Hash {
	return p.hash
}

func (p *fakePending) Wait(ctx context.Context) (*types.Receipt, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: p.hash}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fakeHash(account common.Address, n int) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return common.Hash(sha256.Sum256(append(account.Bytes(), buf[:]...)))
}
