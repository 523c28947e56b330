package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nftmint/internal/nft"

	"golang.org/x/sync/errgroup"
)

// ErrNoContract is returned when no contract handle is bound yet.
var ErrNoContract = errors.New("no contract handle bound")

// Stats is a consistent read of the collection supply.
type Stats struct {
	Minted uint64 `json:"minted"`
	Max    uint64 `json:"max"`
}

// Source hands out the contract handle for the current session.
type Source interface {
	Client() nft.Client
}

// Refresher polls supply counters. Once a value is known it is only ever
// replaced by a newer successful read.
type Refresher struct {
	source Source

	mu    sync.RWMutex
	last  Stats
	known bool
	runs  int

	// started numbers refreshes as they begin; applied is the newest one
	// whose result was stored.
	started uint64
	applied uint64
}

func NewRefresher(source Source) *Refresher {
	return &Refresher{source: source}
}

// Refresh reads both counters from the current handle. On failure the
// previous value is kept and returned alongside an nft.ErrReadFailure. A
// read that finishes after a newer one was stored is discarded.
func (r *Refresher) Refresh(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	client := r.source.Client()
	if client == nil {
		prev := r.last
		r.mu.Unlock()
		return prev, ErrNoContract
	}
	r.started++
	seq := r.started
	r.mu.Unlock()

	var next Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := client.CurrentSupply(gctx)
		next.Minted = v
		return err
	})
	g.Go(func() error {
		v, err := client.MaxSupply(gctx)
		next.Max = v
		return err
	})
	err := g.Wait()
	if err == nil && next.Minted > next.Max {
		err = fmt.Errorf("%w: minted %d exceeds max %d", nft.ErrReadFailure, next.Minted, next.Max)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	if err != nil {
		if !errors.Is(err, nft.ErrReadFailure) {
			err = fmt.Errorf("%w: %w", nft.ErrReadFailure, err)
		}
		log.Warnf("Supply refresh failed, keeping %d/%d: %v", r.last.Minted, r.last.Max, err)
		return r.last, err
	}
	if seq < r.applied {
		log.Debugf("Dropping supply read %d/%d, a newer read is stored",
			next.Minted, next.Max)
		return r.last, nil
	}
	r.applied = seq
	r.last = next
	r.known = true
	log.Debugf("Supply refreshed: %d/%d", next.Minted, next.Max)
	return next, nil
}

// Current returns the last successful read and whether one exists.
func (r *Refresher) Current() (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.known
}

// Runs counts refresh attempts.
func (r *Refresher) Runs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs
}
