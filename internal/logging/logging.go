// Package logging routes every subsystem logger through one btclog backend.
package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"nftmint/internal/dapp"
	"nftmint/internal/idempotency"
	"nftmint/internal/minting"
	"nftmint/internal/nft"
	"nftmint/internal/server"
	"nftmint/internal/session"
	"nftmint/internal/stats"
	"nftmint/internal/wallet"

	"github.com/btcsuite/btclog"
)

type subsystem struct {
	use func(btclog.Logger)
}

var subsystems = map[string]subsystem{
	wallet.Subsystem:      {use: wallet.UseLogger},
	nft.Subsystem:         {use: nft.UseLogger},
	session.Subsystem:     {use: session.UseLogger},
	minting.Subsystem:     {use: minting.UseLogger},
	stats.Subsystem:       {use: stats.UseLogger},
	dapp.Subsystem:        {use: dapp.UseLogger},
	server.Subsystem:      {use: server.UseLogger},
	idempotency.Subsystem: {use: idempotency.UseLogger},
}

// Subsystems lists the known subsystem tags, sorted.
func Subsystems() []string {
	out := make([]string, 0, len(subsystems))
	for tag := range subsystems {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Setup creates a backend writing to w and installs a logger for every
// subsystem. levels is either a single level ("info") applied to all
// subsystems, or a comma separated list of level and SUBSYS=level entries
// ("info,MINT=debug").
func Setup(w io.Writer, levels string) (map[string]btclog.Logger, error) {
	backend := btclog.NewBackend(w)

	global := btclog.LevelInfo
	perSub := make(map[string]btclog.Level)
	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag, lvl, found := strings.Cut(part, "=")
		if !found {
			l, ok := btclog.LevelFromString(part)
			if !ok {
				return nil, fmt.Errorf("invalid log level %q", part)
			}
			global = l
			continue
		}
		tag = strings.ToUpper(strings.TrimSpace(tag))
		if _, ok := subsystems[tag]; !ok {
			return nil, fmt.Errorf("unknown subsystem %q, supported: %s", tag, strings.Join(Subsystems(), ", "))
		}
		l, ok := btclog.LevelFromString(strings.TrimSpace(lvl))
		if !ok {
			return nil, fmt.Errorf("invalid log level %q for %s", lvl, tag)
		}
		perSub[tag] = l
	}

	loggers := make(map[string]btclog.Logger, len(subsystems))
	for tag, sub := range subsystems {
		logger := backend.Logger(tag)
		if l, ok := perSub[tag]; ok {
			logger.SetLevel(l)
		} else {
			logger.SetLevel(global)
		}
		sub.use(logger)
		loggers[tag] = logger
	}
	return loggers, nil
}
