package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrProviderUnavailable means no wallet is attached.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrUserRejected means the user declined a wallet prompt.
	ErrUserRejected = errors.New("user rejected the request")
)

// Provider is the minimum a wallet must offer.
type Provider interface {
	// Accounts returns the accounts already authorized for this client
	// without prompting the user.
	Accounts(ctx context.Context) ([]common.Address, error)
	// RequestAccounts asks the user to authorize accounts. It may prompt.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// ChainID returns the hex chain identifier the wallet is attached to.
	ChainID(ctx context.Context) (string, error)
}

// LogSubscriber is implemented by providers that can push contract logs.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Sender is implemented by providers holding a signer. The wallet signs and
// broadcasts the call, returning the transaction hash.
type Sender interface {
	SendTransaction(ctx context.Context, call ethereum.CallMsg) (common.Hash, error)
}

// Backend is implemented by providers that can serve read-only contract
// calls, gas estimation and receipts.
type Backend interface {
	bind.ContractCaller
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// HealthChecker is implemented by providers that can report liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
