package wallet

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway fronts an optional wallet provider. A Gateway without a provider
// behaves like a page without an injected wallet: every query fails with
// ErrProviderUnavailable.
type Gateway struct {
	provider Provider
	timeout  time.Duration
}

// NewGateway wraps p. A nil p yields an unavailable gateway.
func NewGateway(p Provider) *Gateway {
	return &Gateway{provider: p}
}

// SetTimeout bounds each silent query (accounts, chain id, ping). Prompting
// requests are left unbounded since they wait on the user. Zero disables.
func (g *Gateway) SetTimeout(d time.Duration) {
	g.timeout = d
}

func (g *Gateway) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Available reports whether a wallet is attached.
func (g *Gateway) Available() bool {
	return g != nil && g.provider != nil
}

func (g *Gateway) Accounts(ctx context.Context) ([]common.Address, error) {
	if !g.Available() {
		return nil, ErrProviderUnavailable
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	return g.provider.Accounts(ctx)
}

func (g *Gateway) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if !g.Available() {
		return nil, ErrProviderUnavailable
	}
	return g.provider.RequestAccounts(ctx)
}

func (g *Gateway) ChainID(ctx context.Context) (string, error) {
	if !g.Available() {
		return "", ErrProviderUnavailable
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	return g.provider.ChainID(ctx)
}

// Subscriber returns the provider's log subscription capability, if any.
func (g *Gateway) Subscriber() (LogSubscriber, bool) {
	if !g.Available() {
		return nil, false
	}
	if c, ok := g.provider.(interface{ SupportsSubscriptions() bool }); ok && !c.SupportsSubscriptions() {
		return nil, false
	}
	sub, ok := g.provider.(LogSubscriber)
	return sub, ok
}

// Sender returns the provider's signing capability, if any.
func (g *Gateway) Sender() (Sender, bool) {
	if !g.Available() {
		return nil, false
	}
	s, ok := g.provider.(Sender)
	return s, ok
}

// Backend returns the provider's read capability, if any.
func (g *Gateway) Backend() (Backend, bool) {
	if !g.Available() {
		return nil, false
	}
	b, ok := g.provider.(Backend)
	return b, ok
}

// Ping checks provider liveness when the provider supports it.
func (g *Gateway) Ping(ctx context.Context) error {
	if !g.Available() {
		return ErrProviderUnavailable
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	if hc, ok := g.provider.(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	_, err := g.provider.ChainID(ctx)
	return err
}
