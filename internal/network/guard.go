package network

import (
	"math/big"
	"strings"
)

// Status is the network the wallet was last seen on.
type Status struct {
	ChainID  string `json:"chainId"`
	Expected bool   `json:"expected"`
}

// Guard checks a wallet chain id against the single network the collection
// is deployed on.
type Guard struct {
	Target string
}

// NewGuard accepts the target in hex ("0x4") or decimal ("4") form.
func NewGuard(target string) Guard {
	return Guard{Target: Normalize(target)}
}

// Validate reports whether chainID names the target network.
func (g Guard) Validate(chainID string) bool {
	if g.Target == "" || chainID == "" {
		return false
	}
	return Normalize(chainID) == g.Target
}

// Check builds a Status for chainID.
func (g Guard) Check(chainID string) Status {
	return Status{ChainID: chainID, Expected: g.Validate(chainID)}
}

// Normalize renders a chain id as lower-case hex without leading zeros.
// Values that are not numbers are returned trimmed and lower-cased.
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}

	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(id, "0x") {
		_, ok = n.SetString(id[2:], 16)
	} else {
		_, ok = n.SetString(id, 10)
	}
	if !ok {
		return id
	}
	return "0x" + n.Text(16)
}
