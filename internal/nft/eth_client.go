package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"nftmint/internal/contracts"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultReceiptPoll = 2 * time.Second

type EthBinderConfig struct {
	Gateway *wallet.Gateway
	// ABI defaults to the embedded collection ABI.
	ABI             *abi.ABI
	ContractAddress string
	// ExhaustedReason is the revert substring that signals a sold-out
	// collection. Defaults to contracts.SupplyExhaustedReason.
	ExhaustedReason string
	ReceiptPoll     time.Duration
	// ReadTimeout bounds each supply read. Zero disables.
	ReadTimeout time.Duration
}

// EthBinder builds EthClient handles over the wallet's capabilities.
type EthBinder struct {
	gateway  *wallet.Gateway
	abi      abi.ABI
	address  common.Address
	reason   string
	pollRate time.Duration
	readWait time.Duration
}

func NewEthBinder(cfg EthBinderConfig) (*EthBinder, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	var parsed abi.ABI
	if cfg.ABI != nil {
		parsed = *cfg.ABI
	} else {
		var err error
		if parsed, err = contracts.ParseABI(); err != nil {
			return nil, err
		}
	}

	reason := cfg.ExhaustedReason
	if reason == "" {
		reason = contracts.SupplyExhaustedReason
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = defaultReceiptPoll
	}

	return &EthBinder{
		gateway:  cfg.Gateway,
		abi:      parsed,
		address:  common.HexToAddress(cfg.ContractAddress),
		reason:   reason,
		pollRate: poll,
		readWait: cfg.ReadTimeout,
	}, nil
}

// Bind returns a handle for account. The handle also implements Watcher when
// the wallet can push logs.
func (b *EthBinder) Bind(account common.Address) (Client, error) {
	backend, ok := b.gateway.Backend()
	if !ok {
		return nil, fmt.Errorf("%w: wallet cannot serve contract reads", wallet.ErrProviderUnavailable)
	}
	sender, ok := b.gateway.Sender()
	if !ok {
		return nil, fmt.Errorf("%w: wallet cannot sign transactions", wallet.ErrProviderUnavailable)
	}

	c := &EthClient{
		backend:  backend,
		sender:   sender,
		contract: bind.NewBoundContract(b.address, b.abi, backend, nil, nil),
		abi:      b.abi,
		address:  b.address,
		account:  account,
		reason:   b.reason,
		pollRate: b.pollRate,
		readWait: b.readWait,
	}
	if logs, ok := b.gateway.Subscriber(); ok {
		return &WatchingEthClient{EthClient: c, logs: logs}, nil
	}
	return c, nil
}

// EthClient calls the collection contract on behalf of one account. Writes
// are signed by the wallet; nothing here holds key material.
type EthClient struct {
	backend  wallet.Backend
	sender   wallet.Sender
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	account  common.Address
	reason   string
	pollRate time.Duration
	readWait time.Duration
}

func (c *EthClient) Account() common.Address {
	return c.account
}

func (c *EthClient) Mint(ctx context.Context) (PendingTx, error) {
	input, err := c.abi.Pack(contracts.MethodMint)
	if err != nil {
		return nil, fmt.Errorf("pack mint call: %w", err)
	}

	call := ethereum.CallMsg{From: c.account, To: &c.address, Data: input}

	// Gas estimation executes the call, so reverts such as a sold-out
	// collection surface here before the wallet prompts.
	gas, err := c.backend.EstimateGas(ctx, call)
	if err != nil {
		return nil, c.classify(err)
	}
	call.Gas = gas

	hash, err := c.sender.SendTransaction(ctx, call)
	if err != nil {
		return nil, c.classify(err)
	}
	log.Infof("Mint submitted by %s: %s", c.account.Hex(), hash.Hex())

	return &pendingTx{hash: hash, backend: c.backend, pollRate: c.pollRate}, nil
}

func (c *EthClient) CurrentSupply(ctx context.Context) (uint64, error) {
	return c.readUint(ctx, contracts.MethodCurrentSupply)
}

func (c *EthClient) MaxSupply(ctx context.Context) (uint64, error) {
	return c.readUint(ctx, contracts.MethodMaxSupply)
}

func (c *EthClient) readUint(ctx context.Context, method string) (uint64, error) {
	if c.readWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readWait)
		defer cancel()
	}

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.account}
	if err := c.contract.Call(opts, &out, method); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrReadFailure, method, err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrReadFailure, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s returned %v", ErrReadFailure, method, out[0])
	}
	return v.Uint64(), nil
}

// classify sorts a mint failure into the package taxonomy. Wallet sentinels
// pass through untouched.
func (c *EthClient) classify(err error) error {
	if errors.Is(err, wallet.ErrUserRejected) || errors.Is(err, wallet.ErrProviderUnavailable) {
		return err
	}

	msg := strings.ToLower(err.Error() + " " + revertReason(err))
	switch {
	case c.reason != "" && strings.Contains(msg, strings.ToLower(c.reason)):
		return fmt.Errorf("%w: %w", ErrSupplyExhausted, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
}

// revertReason decodes an Error(string) payload carried in the rpc error
// data, if any.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

// WatchingEthClient is an EthClient whose wallet can push contract logs.
type WatchingEthClient struct {
	*EthClient
	logs wallet.LogSubscriber
}

func (c *WatchingEthClient) WatchMinted(ctx context.Context, recipient common.Address, sink chan<- MintEvent) (event.Subscription, error) {
	ev, ok := c.abi.Events[contracts.EventMinted]
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", contracts.EventMinted)
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	logs := make(chan types.Log, 16)
	sub, err := c.logs.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", contracts.EventMinted, err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					continue
				}
				var out struct {
					Sender  common.Address
					TokenId *big.Int
				}
				if err := c.contract.UnpackLog(&out, contracts.EventMinted, l); err != nil {
					log.Warnf("Unable to decode %s log in tx %s: %v", contracts.EventMinted, l.TxHash.Hex(), err)
					continue
				}
				if out.Sender != recipient || out.TokenId == nil {
					continue
				}
				evt := MintEvent{Recipient: out.Sender, TokenID: out.TokenId.Uint64(), TxHash: l.TxHash}
				select {
				case sink <- evt:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

type pendingTx struct {
	hash     common.Hash
	backend  wallet.Backend
	pollRate time.Duration
}

func (p *pendingTx) Hash() common.Hash {
	return p.hash
}

// Wait polls until the transaction is mined or ctx is cancelled.
func (p *pendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, p.hash)
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, p.hash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
