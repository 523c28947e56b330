package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nftmint/internal/network"
	"nftmint/internal/nft"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ErrNoAccounts is returned when the wallet authorizes the request but exposes
// no account.
var ErrNoAccounts = errors.New("wallet returned no accounts")

// Session is the wallet connection as seen by the rest of the client.
type Session struct {
	Account   common.Address `json:"account"`
	Connected bool           `json:"connected"`
}

type Config struct {
	Gateway *wallet.Gateway
	Guard   network.Guard
	Binder  nft.Binder

	// OnConnect runs after every transition into Connected and every account
	// change, once the new contract handle is in place.
	OnConnect func(ctx context.Context, s Session)
	// OnEvent receives mint notifications for the session account.
	OnEvent func(ctx context.Context, ev nft.MintEvent)
	// OnChange is called whenever session or network state changes.
	OnChange func()
}

// Manager owns the wallet session, the network status and the contract
// handle bound to the session account.
type Manager struct {
	cfg Config

	// opMu serializes lifecycle operations (Start, Connect, Sync, Disconnect).
	opMu sync.Mutex

	mu            sync.RWMutex
	session       Session
	network       network.Status
	walletMissing bool
	client        nft.Client
	sub           event.Subscription
	registrations int
}

func NewManager(cfg Config) *Manager {
	if cfg.Gateway == nil {
		cfg.Gateway = wallet.NewGateway(nil)
	}
	return &Manager{cfg: cfg}
}

// Start performs the silent check done when the client loads. A missing
// wallet is not an error; it is reported through WalletMissing.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.cfg.Gateway.Available() {
		log.Infof("No wallet provider found")
		m.setWalletMissing()
		return nil
	}

	// A wrong network is flagged but never stops account detection.
	m.readNetwork(ctx)

	accounts, err := m.cfg.Gateway.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("silent account check: %w", err)
	}
	if len(accounts) == 0 {
		log.Infof("Wallet found, no authorized account")
		return nil
	}
	return m.establish(ctx, accounts[0])
}

// Connect asks the wallet for account access. While already connected it
// returns the current session without prompting.
func (m *Manager) Connect(ctx context.Context) (Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.Session(); s.Connected {
		return s, nil
	}
	if !m.cfg.Gateway.Available() {
		m.setWalletMissing()
		return Session{}, wallet.ErrProviderUnavailable
	}

	m.readNetwork(ctx)

	accounts, err := m.cfg.Gateway.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			log.Infof("Connect request rejected by user")
		}
		return m.Session(), err
	}
	if len(accounts) == 0 {
		return m.Session(), ErrNoAccounts
	}
	if err := m.establish(ctx, accounts[0]); err != nil {
		return m.Session(), err
	}
	return m.Session(), nil
}

// Sync silently re-reads the wallet. Zero accounts end the session; a
// different first account moves the session to it.
func (m *Manager) Sync(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.cfg.Gateway.Available() {
		return nil
	}
	m.readNetwork(ctx)

	accounts, err := m.cfg.Gateway.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("account sync: %w", err)
	}

	cur := m.Session()
	switch {
	case len(accounts) == 0:
		if cur.Connected {
			log.Infof("Wallet no longer exposes %s, disconnecting", cur.Account.Hex())
			m.reset()
		}
		return nil
	case !cur.Connected || accounts[0] != cur.Account:
		return m.establish(ctx, accounts[0])
	default:
		return nil
	}
}

// Disconnect ends the session and stops the mint listener.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.reset()
}

func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) Network() network.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.network
}

// WalletMissing reports whether the last check found no wallet provider.
func (m *Manager) WalletMissing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walletMissing
}

// Client returns the contract handle bound to the session account, or nil
// while disconnected.
func (m *Manager) Client() nft.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Registrations counts mint listeners registered over the manager's life.
func (m *Manager) Registrations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registrations
}

func (m *Manager) readNetwork(ctx context.Context) {
	id, err := m.cfg.Gateway.ChainID(ctx)
	if err != nil {
		log.Warnf("Unable to read chain id: %v", err)
		return
	}
	status := m.cfg.Guard.Check(id)
	if !status.Expected {
		log.Warnf("Wallet is on chain %s, expected %s", id, m.cfg.Guard.Target)
	}

	m.mu.Lock()
	changed := m.network != status
	m.network = status
	m.mu.Unlock()
	if changed {
		m.changed()
	}
}

// establish moves the session to account. The contract handle is rebuilt
// before the listener is registered and before OnConnect runs, so nothing
// reads through a handle bound to a previous account.
func (m *Manager) establish(ctx context.Context, account common.Address) error {
	client, err := m.cfg.Binder.Bind(account)
	if err != nil {
		return fmt.Errorf("bind contract for %s: %w", account.Hex(), err)
	}

	m.mu.Lock()
	old := m.sub
	m.sub = nil
	m.client = client
	m.session = Session{Account: account, Connected: true}
	m.walletMissing = false
	m.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	log.Infof("Session connected as %s", account.Hex())

	m.listen(ctx, client, account)
	m.changed()

	if m.cfg.OnConnect != nil {
		m.cfg.OnConnect(ctx, Session{Account: account, Connected: true})
	}
	return nil
}

// listen registers the mint listener for account, if the handle can stream
// events. Without it, confirmation relies on the receipt alone.
func (m *Manager) listen(ctx context.Context, client nft.Client, account common.Address) {
	w, ok := client.(nft.Watcher)
	if !ok {
		log.Debugf("Contract handle has no event stream, relying on receipts")
		return
	}

	ctx = context.WithoutCancel(ctx)
	sink := make(chan nft.MintEvent, 8)
	sub, err := w.WatchMinted(ctx, account, sink)
	if err != nil {
		log.Warnf("Unable to watch mint events for %s: %v", account.Hex(), err)
		return
	}

	m.mu.Lock()
	m.sub = sub
	m.registrations++
	m.mu.Unlock()

	go m.forward(ctx, sub, sink)
}

func (m *Manager) forward(ctx context.Context, sub event.Subscription, sink <-chan nft.MintEvent) {
	for {
		select {
		case ev := <-sink:
			if !m.current(sub) {
				continue
			}
			log.Debugf("Mint event: token %d to %s", ev.TokenID, ev.Recipient.Hex())
			if m.cfg.OnEvent != nil {
				m.cfg.OnEvent(ctx, ev)
			}

		case err, ok := <-sub.Err():
			if ok && err != nil {
				log.Warnf("Mint event subscription ended: %v", err)
			}
			return
		}
	}
}

func (m *Manager) current(sub event.Subscription) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sub == sub
}

func (m *Manager) reset() {
	m.mu.Lock()
	old := m.sub
	m.sub = nil
	m.client = nil
	m.session = Session{}
	m.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	m.changed()
}

func (m *Manager) setWalletMissing() {
	m.mu.Lock()
	m.walletMissing = true
	m.mu.Unlock()
	m.changed()
}

func (m *Manager) changed() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange()
	}
}
