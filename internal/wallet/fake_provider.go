package wallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeProvider is an in-memory wallet used by tests and simulation mode.
// Authorized accounts become visible to Accounts only after RequestAccounts
// succeeds, unless they are pre-authorized.
type FakeProvider struct {
	mu sync.Mutex

	chainID    string
	accounts   []common.Address
	authorized bool
	rejectNext error

	requests int
}

// NewFakeProvider returns a wallet on chainID holding accounts.
func NewFakeProvider(chainID string, accounts ...common.Address) *FakeProvider {
	return &FakeProvider{chainID: chainID, accounts: accounts}
}

// Authorize marks the accounts as previously approved, as if the user had
// connected on an earlier visit.
func (f *FakeProvider) Authorize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = true
}

// Revoke removes the authorization, as if the user disconnected from within
// the wallet.
func (f *FakeProvider) Revoke() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = false
}

// SetAccounts replaces the accounts the wallet holds.
func (f *FakeProvider) SetAccounts(accounts ...common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = accounts
}

// SetChainID switches the network the wallet reports.
func (f *FakeProvider) SetChainID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = id
}

// RejectNext makes the next RequestAccounts fail with err. A nil err is
// replaced with ErrUserRejected.
func (f *FakeProvider) RejectNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrUserRejected
	}
	f.rejectNext = err
}

// Requests returns how many times the user was prompted.
func (f *FakeProvider) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *FakeProvider) Accounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized {
		return nil, nil
	}
	return append([]common.Address(nil), f.accounts...), nil
}

func (f *FakeProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if err := f.rejectNext; err != nil {
		f.rejectNext = nil
		return nil, err
	}
	f.authorized = true
	return append([]common.Address(nil), f.accounts...), nil
}

func (f *FakeProvider) ChainID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}
