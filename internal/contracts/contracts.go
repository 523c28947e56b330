package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EpicNFTABI is the interface description of the collection contract.
//
//go:embed EpicNFT.abi.json
var EpicNFTABI []byte

// Collection method and event names.
const (
	MethodMint          = "makeAnEpicNFT"
	MethodCurrentSupply = "getTotalNFTsMintedSoFar"
	MethodMaxSupply     = "maxNfts"
	EventMinted         = "NewEpicNFTMinted"
)

// SupplyExhaustedReason is the revert reason the contract uses once every
// token has been minted.
const SupplyExhaustedReason = "All NFTs have been minted"

// ParseABI parses the embedded collection ABI.
func ParseABI() (abi.ABI, error) {
	return parse(EpicNFTABI)
}

// LoadArtifact reads a compiler artifact ({"abi": [...]}) or a bare ABI array
// from disk and checks that it carries every method and event the client uses.
func LoadArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("decode artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("artifact %s has no abi field", path)
		}
		raw = artifact.ABI
	}

	return parse(raw)
}

func parse(raw []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	for _, m := range []string{MethodMint, MethodCurrentSupply, MethodMaxSupply} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("abi is missing method %s", m)
		}
	}
	if _, ok := parsed.Events[EventMinted]; !ok {
		return abi.ABI{}, fmt.Errorf("abi is missing event %s", EventMinted)
	}
	return parsed, nil
}
