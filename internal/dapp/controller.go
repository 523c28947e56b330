package dapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nftmint/internal/minting"
	"nftmint/internal/network"
	"nftmint/internal/nft"
	"nftmint/internal/session"
	"nftmint/internal/stats"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	DefaultAssetURL      = "https://testnets.opensea.io/assets"
	wrongNetworkMessage  = "You are not connected to the expected network."
	installWalletMessage = "Get MetaMask! A browser wallet is required to mint."
)

type Config struct {
	Gateway         *wallet.Gateway
	Guard           network.Guard
	Binder          nft.Binder
	ContractAddress common.Address

	Clock          clock.Clock
	ConfirmTimeout time.Duration

	// AssetURL is the marketplace prefix for a single token; the contract
	// address and token id are appended.
	AssetURL string
	// CollectionURL links to the whole collection.
	CollectionURL string

	OnTransition func(minting.Transition)
	OnRefresh    func(stats.Stats, error)
}

// MintNotice announces a token minted to the session account.
type MintNotice struct {
	TokenID uint64      `json:"tokenId"`
	TxHash  common.Hash `json:"txHash"`
	URL     string      `json:"url"`
}

// Snapshot is the immutable view handed to the display layer.
type Snapshot struct {
	Version uint64 `json:"version"`

	Account       string `json:"account,omitempty"`
	Connected     bool   `json:"connected"`
	WalletMissing bool   `json:"walletMissing"`

	ChainID         string `json:"chainId,omitempty"`
	ExpectedNetwork bool   `json:"expectedNetwork"`

	Status        string `json:"status"`
	StatusLabel   string `json:"statusLabel"`
	FailureReason string `json:"failureReason,omitempty"`
	Message       string `json:"message,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
	Exhausted     bool   `json:"exhausted"`
	CanMint       bool   `json:"canMint"`

	Stats         *stats.Stats `json:"stats,omitempty"`
	LastMint      *MintNotice  `json:"lastMint,omitempty"`
	CollectionURL string       `json:"collectionUrl,omitempty"`
}

// Controller wires the session, the mint workflow and the stats refresher
// and accepts the two user intents.
type Controller struct {
	cfg Config

	session  *session.Manager
	workflow *minting.Workflow
	stats    *stats.Refresher

	mu       sync.Mutex
	lastMint *MintNotice

	subMu   sync.Mutex
	subs    map[chan Snapshot]struct{}
	version uint64
}

func New(cfg Config) *Controller {
	if cfg.AssetURL == "" {
		cfg.AssetURL = DefaultAssetURL
	}
	c := &Controller{
		cfg:  cfg,
		subs: make(map[chan Snapshot]struct{}),
	}
	c.session = session.NewManager(session.Config{
		Gateway:   cfg.Gateway,
		Guard:     cfg.Guard,
		Binder:    cfg.Binder,
		OnConnect: c.onConnect,
		OnEvent:   c.onEvent,
		OnChange:  c.publish,
	})
	c.stats = stats.NewRefresher(c.session)
	c.workflow = minting.New(minting.Config{
		Gate:           c,
		Stats:          c,
		Clock:          cfg.Clock,
		ConfirmTimeout: cfg.ConfirmTimeout,
		OnTransition:   c.onTransition,
	})
	return c
}

// Start runs the silent wallet check.
func (c *Controller) Start(ctx context.Context) error {
	return c.session.Start(ctx)
}

// Connect is the "connect" intent.
func (c *Controller) Connect(ctx context.Context) (session.Session, error) {
	return c.session.Connect(ctx)
}

// Sync re-reads the wallet for account or network changes.
func (c *Controller) Sync(ctx context.Context) error {
	return c.session.Sync(ctx)
}

// Mint is the "mint" intent. It returns once the wallet accepted the
// transaction.
func (c *Controller) Mint(ctx context.Context) (common.Hash, error) {
	return c.workflow.Mint(ctx)
}

// Wait blocks until the current mint attempt settles.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	_, err := c.workflow.Wait(ctx)
	return c.Snapshot(), err
}

// Refresh re-reads supply stats and publishes the result.
func (c *Controller) Refresh(ctx context.Context) (stats.Stats, error) {
	s, err := c.stats.Refresh(ctx)
	if c.cfg.OnRefresh != nil && !errors.Is(err, stats.ErrNoContract) {
		c.cfg.OnRefresh(s, err)
	}
	c.publish()
	return s, err
}

// Ping checks the wallet provider.
func (c *Controller) Ping(ctx context.Context) error {
	return c.cfg.Gateway.Ping(ctx)
}

// MintTarget admits a mint only for a connected session on the expected
// network.
func (c *Controller) MintTarget() (minting.Target, error) {
	s := c.session.Session()
	if !s.Connected {
		return minting.Target{}, minting.ErrNotConnected
	}
	if !c.session.Network().Expected {
		return minting.Target{}, minting.ErrWrongNetwork
	}
	client := c.session.Client()
	if client == nil {
		return minting.Target{}, minting.ErrNotConnected
	}
	return minting.Target{Client: client, Account: s.Account}, nil
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	snap := c.snapshot()
	snap.Version = c.version
	return snap
}

// snapshot assembles the view. Caller holds subMu.
func (c *Controller) snapshot() Snapshot {
	s := c.session.Session()
	net := c.session.Network()
	st := c.workflow.State()

	snap := Snapshot{
		Connected:       s.Connected,
		WalletMissing:   c.session.WalletMissing(),
		ChainID:         net.ChainID,
		ExpectedNetwork: net.Expected,
		Status:          st.Status.String(),
		StatusLabel:     st.Status.Label(),
		Exhausted:       st.Exhausted,
		CollectionURL:   c.cfg.CollectionURL,
	}
	if s.Connected {
		snap.Account = s.Account.Hex()
	}
	if st.TxHash != (common.Hash{}) {
		snap.TxHash = st.TxHash.Hex()
	}
	if st.Status == minting.Failed {
		snap.FailureReason = st.Reason.String()
		snap.Message = st.Reason.Message()
	}
	switch {
	case snap.WalletMissing:
		snap.Message = installWalletMessage
	case net.ChainID != "" && !net.Expected:
		snap.Message = wrongNetworkMessage
	}
	if cur, ok := c.stats.Current(); ok {
		snap.Stats = &cur
	}

	c.mu.Lock()
	if c.lastMint != nil {
		n := *c.lastMint
		snap.LastMint = &n
	}
	c.mu.Unlock()

	snap.CanMint = s.Connected && net.Expected && !st.Status.InFlight() && !st.Exhausted
	return snap
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate snapshots. The returned func releases it.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	snap := c.snapshot()
	snap.Version = c.version
	ch <- snap
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.version++
	snap := c.snapshot()
	snap.Version = c.version
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// onConnect refreshes stats against the freshly bound handle.
func (c *Controller) onConnect(ctx context.Context, s session.Session) {
	if _, err := c.Refresh(ctx); err != nil {
		log.Warnf("Stats refresh after connecting %s failed: %v", s.Account.Hex(), err)
	}
}

func (c *Controller) onEvent(ctx context.Context, ev nft.MintEvent) {
	c.mu.Lock()
	c.lastMint = &MintNotice{
		TokenID: ev.TokenID,
		TxHash:  ev.TxHash,
		URL:     c.assetURL(ev.TokenID),
	}
	c.mu.Unlock()

	log.Infof("Minted token %d to %s: %s", ev.TokenID, ev.Recipient.Hex(), c.assetURL(ev.TokenID))
	c.workflow.HandleEvent(ctx, ev)
	c.publish()
}

func (c *Controller) onTransition(t minting.Transition) {
	log.Debugf("Mint status %s -> %s", t.From, t.To)
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(t)
	}
	c.publish()
}

func (c *Controller) assetURL(tokenID uint64) string {
	return fmt.Sprintf("%s/%s/%d", strings.TrimRight(c.cfg.AssetURL, "/"), c.cfg.ContractAddress.Hex(), tokenID)
}
