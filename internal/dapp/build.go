package dapp

import (
	"context"
	"fmt"

	"nftmint/internal/config"
	"nftmint/internal/contracts"
	"nftmint/internal/network"
	"nftmint/internal/nft"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
)

// SimulatedAccount is the account held by the in-memory wallet.
var SimulatedAccount = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

// Runtime is a wired Controller and the resources behind it.
type Runtime struct {
	Controller *Controller
	Gateway    *wallet.Gateway

	// Chain is set in simulation mode.
	Chain *nft.FakeChain

	closers []func()
}

// Close releases the wallet connection.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Build wires a Controller from configuration. Hooks such as metrics are
// supplied by the caller through hooks.
func Build(ctx context.Context, cfg *config.Config, hooks Config) (*Runtime, error) {
	rt := &Runtime{}

	var binder nft.Binder
	switch {
	case cfg.Simulate:
		provider := wallet.NewFakeProvider(network.Normalize(cfg.ChainID), SimulatedAccount)
		chain := nft.NewFakeChain(cfg.SimulateSupply)
		chain.AutoMine = true
		rt.Gateway = wallet.NewGateway(provider)
		rt.Chain = chain
		binder = chain
		log.Infof("Simulation mode: wallet %s, supply %d", SimulatedAccount.Hex(), cfg.SimulateSupply)

	default:
		var provider wallet.Provider
		if cfg.WalletRPC != "" {
			dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
			p, err := wallet.DialRPCProvider(dialCtx, cfg.WalletRPC)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("dial wallet %s: %w", cfg.WalletRPC, err)
			}
			rt.closers = append(rt.closers, p.Close)
			provider = p
		} else {
			log.Warnf("No wallet endpoint configured")
		}
		rt.Gateway = wallet.NewGateway(provider)
		rt.Gateway.SetTimeout(cfg.RPCTimeout)

		var parsed *abi.ABI
		if cfg.ArtifactPath != "" {
			a, err := contracts.LoadArtifact(cfg.ArtifactPath)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("load artifact: %w", err)
			}
			parsed = &a
		}

		eth, err := nft.NewEthBinder(nft.EthBinderConfig{
			Gateway:         rt.Gateway,
			ABI:             parsed,
			ContractAddress: cfg.ContractAddress,
			ExhaustedReason: cfg.ExhaustedReason,
			ReceiptPoll:     cfg.ReceiptPoll,
			ReadTimeout:     cfg.RPCTimeout,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		binder = eth
	}

	hooks.Gateway = rt.Gateway
	hooks.Guard = network.NewGuard(cfg.ChainID)
	hooks.Binder = binder
	hooks.ContractAddress = common.HexToAddress(cfg.ContractAddress)
	hooks.ConfirmTimeout = cfg.ConfirmTimeout
	hooks.AssetURL = cfg.AssetURL
	hooks.CollectionURL = cfg.CollectionURL
	if hooks.Clock == nil {
		hooks.Clock = clock.NewDefaultClock()
	}

	rt.Controller = New(hooks)
	return rt, nil
}
