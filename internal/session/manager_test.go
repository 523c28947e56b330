package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"nftmint/internal/network"
	"nftmint/internal/nft"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type hooks struct {
	mu       sync.Mutex
	connects []Session
	events   []nft.MintEvent
}

func (h *hooks) onConnect(_ context.Context, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects = append(h.connects, s)
}

func (h *hooks) onEvent(_ context.Context, ev nft.MintEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *hooks) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *hooks) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connects)
}

func newManager(p wallet.Provider, chain *nft.FakeChain, h *hooks) *Manager {
	return NewManager(Config{
		Gateway:   wallet.NewGateway(p),
		Guard:     network.NewGuard("0x4"),
		Binder:    chain,
		OnConnect: h.onConnect,
		OnEvent:   h.onEvent,
	})
}

func TestStartWithoutWallet(t *testing.T) {
	h := &hooks{}
	m := NewManager(Config{Binder: nft.NewFakeChain(10), OnConnect: h.onConnect})

	require.NoError(t, m.Start(context.Background()))
	require.True(t, m.WalletMissing())
	require.False(t, m.Session().Connected)
	require.Nil(t, m.Client())

	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, wallet.ErrProviderUnavailable)
	require.Zero(t, h.connectCount())
}

func TestStartSilentlyRestoresAuthorizedAccount(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	p.Authorize()
	chain := nft.NewFakeChain(10)
	h := &hooks{}
	m := newManager(p, chain, h)

	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, Session{Account: alice, Connected: true}, m.Session())
	require.Equal(t, network.Status{ChainID: "0x4", Expected: true}, m.Network())
	require.Zero(t, p.Requests(), "silent check must not prompt")
	require.NotNil(t, m.Client())
	require.Equal(t, 1, h.connectCount())
	require.Equal(t, 1, chain.Watchers())
}

func TestStartWithoutAuthorizationStaysDisconnected(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	m := newManager(p, nft.NewFakeChain(10), &hooks{})

	require.NoError(t, m.Start(context.Background()))
	require.False(t, m.Session().Connected)
	require.False(t, m.WalletMissing())
}

func TestWrongNetworkDoesNotBlockConnection(t *testing.T) {
	p := wallet.NewFakeProvider("0x1", alice)
	p.Authorize()
	m := newManager(p, nft.NewFakeChain(10), &hooks{})

	require.NoError(t, m.Start(context.Background()))
	require.True(t, m.Session().Connected)
	require.Equal(t, network.Status{ChainID: "0x1", Expected: false}, m.Network())
}

func TestRepeatedConnectRegistersOnce(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	chain := nft.NewFakeChain(10)
	h := &hooks{}
	m := newManager(p, chain, h)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s, err := m.Connect(ctx)
		require.NoError(t, err)
		require.Equal(t, alice, s.Account)
	}

	require.Equal(t, 1, p.Requests())
	require.Equal(t, 1, m.Registrations())
	require.Equal(t, 1, chain.Watchers())
	require.Equal(t, 1, chain.Binds())
	require.Equal(t, 1, h.connectCount())

	// A single mint produces a single delivery.
	chain.Emit(nft.MintEvent{Recipient: alice, TokenID: 1})
	require.Eventually(t, func() bool { return h.eventCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, h.eventCount())
}

func TestConnectRejectedLeavesStateUnchanged(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	p.RejectNext(nil)
	h := &hooks{}
	m := newManager(p, nft.NewFakeChain(10), h)

	s, err := m.Connect(context.Background())
	require.ErrorIs(t, err, wallet.ErrUserRejected)
	require.False(t, s.Connected)
	require.Nil(t, m.Client())
	require.Zero(t, h.connectCount())

	s, err = m.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, s.Connected)
}

func TestConnectWithEmptyAccountList(t *testing.T) {
	p := wallet.NewFakeProvider("0x4")
	m := newManager(p, nft.NewFakeChain(10), &hooks{})

	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoAccounts)
	require.False(t, m.Session().Connected)
}

func TestConnectRereadsChainID(t *testing.T) {
	p := wallet.NewFakeProvider("0x1", alice)
	m := newManager(p, nft.NewFakeChain(10), &hooks{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.False(t, m.Network().Expected)

	p.SetChainID("0x04")
	_, err := m.Connect(ctx)
	require.NoError(t, err)
	require.True(t, m.Network().Expected)
}

func TestEventsForOtherAccountsAreFiltered(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	chain := nft.NewFakeChain(10)
	h := &hooks{}
	m := newManager(p, chain, h)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	chain.Emit(nft.MintEvent{Recipient: bob, TokenID: 3})
	chain.Emit(nft.MintEvent{Recipient: alice, TokenID: 4})
	require.Eventually(t, func() bool { return h.eventCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSyncFollowsWallet(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	chain := nft.NewFakeChain(10)
	h := &hooks{}
	m := newManager(p, chain, h)
	ctx := context.Background()

	_, err := m.Connect(ctx)
	require.NoError(t, err)
	first := m.Client()

	// Account switch: handle rebuilt, old listener replaced.
	p.SetAccounts(bob)
	require.NoError(t, m.Sync(ctx))
	require.Equal(t, bob, m.Session().Account)
	require.NotSame(t, first, m.Client())
	require.Equal(t, 2, chain.Binds())
	require.Eventually(t, func() bool { return chain.Watchers() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, h.connectCount())

	// Unchanged wallet: nothing happens.
	require.NoError(t, m.Sync(ctx))
	require.Equal(t, 2, chain.Binds())

	// Revoked from within the wallet.
	p.Revoke()
	require.NoError(t, m.Sync(ctx))
	require.False(t, m.Session().Connected)
	require.Nil(t, m.Client())
	require.Eventually(t, func() bool { return chain.Watchers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectStopsListener(t *testing.T) {
	p := wallet.NewFakeProvider("0x4", alice)
	chain := nft.NewFakeChain(10)
	h := &hooks{}
	m := newManager(p, chain, h)
	ctx := context.Background()

	_, err := m.Connect(ctx)
	require.NoError(t, err)
	m.Disconnect()
	require.False(t, m.Session().Connected)
	require.Eventually(t, func() bool { return chain.Watchers() == 0 }, time.Second, 5*time.Millisecond)

	chain.Emit(nft.MintEvent{Recipient: alice})
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.eventCount())

	// Reconnecting registers exactly one new listener.
	_, err = m.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, m.Registrations())
	require.Equal(t, 1, chain.Watchers())
}
