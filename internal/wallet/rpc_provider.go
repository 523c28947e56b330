package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	codeUserRejected    = 4001
	codeUnauthorized    = 4100
	codeDisconnected    = 4900
	codeChainDisconnect = 4901
	codeMethodNotFound  = -32601
)

// RPCProvider talks to a wallet exposing the standard JSON-RPC methods
// (eth_accounts, eth_requestAccounts, eth_chainId, eth_sendTransaction).
type RPCProvider struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// DialRPCProvider connects to the wallet endpoint at url. WebSocket and IPC
// endpoints additionally support log subscriptions.
func DialRPCProvider(ctx context.Context, url string) (*RPCProvider, error) {
	if url == "" {
		return nil, fmt.Errorf("wallet rpc url is required")
	}
	cli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}
	return NewRPCProvider(cli), nil
}

func NewRPCProvider(cli *rpc.Client) *RPCProvider {
	return &RPCProvider{rpc: cli, eth: ethclient.NewClient(cli)}
}

func (p *RPCProvider) Close() {
	p.rpc.Close()
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, classifyRPCError(err)
	}
	return accounts, nil
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := p.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	if rpcCode(err) == codeMethodNotFound {
		// Node-hosted keystores have no prompt; their unlocked accounts are
		// already authorized.
		log.Debugf("eth_requestAccounts unsupported, falling back to eth_accounts")
		return p.Accounts(ctx)
	}
	if err != nil {
		return nil, classifyRPCError(err)
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (string, error) {
	var id hexutil.Big
	if err := p.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return "", classifyRPCError(err)
	}
	return hexutil.EncodeBig((*big.Int)(&id)), nil
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

func (p *RPCProvider) SendTransaction(ctx context.Context, call ethereum.CallMsg) (common.Hash, error) {
	args := sendTxArgs{
		From: call.From,
		To:   call.To,
		Data: call.Data,
	}
	if call.Gas > 0 {
		gas := hexutil.Uint64(call.Gas)
		args.Gas = &gas
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(call.Value)
	}

	var hash common.Hash
	if err := p.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, classifyRPCError(err)
	}
	return hash, nil
}

func (p *RPCProvider) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return p.eth.CodeAt(ctx, contract, blockNumber)
}

func (p *RPCProvider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return p.eth.CallContract(ctx, call, blockNumber)
}

func (p *RPCProvider) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	gas, err := p.eth.EstimateGas(ctx, call)
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return gas, nil
}

func (p *RPCProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.eth.TransactionReceipt(ctx, hash)
}

func (p *RPCProvider) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return p.eth.SubscribeFilterLogs(ctx, q, ch)
}

// SupportsSubscriptions reports whether the transport can push notifications.
func (p *RPCProvider) SupportsSubscriptions() bool {
	return p.rpc.SupportsSubscriptions()
}

func (p *RPCProvider) Ping(ctx context.Context) error {
	_, err := p.eth.BlockNumber(ctx)
	return err
}

func rpcCode(err error) int {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

// classifyRPCError maps EIP-1193 error codes onto the package sentinels,
// keeping the original error text.
func classifyRPCError(err error) error {
	switch rpcCode(err) {
	case codeUserRejected:
		return fmt.Errorf("%w: %w", ErrUserRejected, err)
	case codeUnauthorized, codeDisconnected, codeChainDisconnect:
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return err
}
