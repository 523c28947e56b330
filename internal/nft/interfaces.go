package nft

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds for mint")
	ErrSupplyExhausted   = errors.New("all tokens have been minted")
	// ErrMintFailed covers mint failures that fit no other category.
	ErrMintFailed = errors.New("mint failed")
	// ErrTxReverted is returned by PendingTx.Wait when the transaction was
	// mined with a failed status.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrReadFailure wraps failed supply reads. It is transient.
	ErrReadFailure = errors.New("contract read failed")
)

// Client abstracts the collection contract for one account.
type Client interface {
	// Mint submits the mint call and returns once the wallet has accepted it
	// for inclusion.
	Mint(ctx context.Context) (PendingTx, error)
	CurrentSupply(ctx context.Context) (uint64, error)
	MaxSupply(ctx context.Context) (uint64, error)
}

// PendingTx is a submitted mint awaiting inclusion.
type PendingTx interface {
	Hash() common.Hash
	// Wait blocks until the transaction is mined, dropped, or ctx ends.
	Wait(ctx context.Context) (*types.Receipt, error)
}

// Watcher is implemented by clients able to stream mint notifications.
type Watcher interface {
	// WatchMinted delivers every mint event whose recipient is recipient.
	WatchMinted(ctx context.Context, recipient common.Address, sink chan<- MintEvent) (event.Subscription, error)
}

// Binder builds a Client bound to account. Handles are cheap and are rebuilt
// whenever the session account changes.
type Binder interface {
	Bind(account common.Address) (Client, error)
}

// MintEvent is the contract's mint notification.
type MintEvent struct {
	Recipient common.Address `json:"recipient"`
	TokenID   uint64         `json:"tokenId"`
	TxHash    common.Hash    `json:"txHash"`
}
