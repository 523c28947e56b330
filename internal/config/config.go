package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nftmint/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jessevdk/go-flags"
)

// ChainID accepts a chain id written as a JSON number or string.
type ChainID string

func (c *ChainID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = ChainID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chainId must be a number or string: %w", err)
	}
	*c = ChainID(n.String())
	return nil
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   ChainID `json:"chainId"`
	Network   string  `json:"network"`
	Deployer  string  `json:"deployer"`
	Contracts struct {
		EpicNFT string `json:"EpicNFT"`
	} `json:"contracts"`
	// Artifact optionally points at the compiler output holding the ABI,
	// relative to the deployments file.
	Artifact string `json:"artifact"`
}

// Config is the full runtime configuration. Every option can be set by flag
// or environment variable; deployment values fill whatever is left unset.
type Config struct {
	DeploymentsPath string `long:"deployments" env:"DEPLOYMENTS_PATH" default:"deployments.json" description:"Path to the deployments file"`

	WalletRPC       string `long:"walletrpc" env:"WALLET_RPC_URL" description:"JSON-RPC endpoint of the wallet provider (http, ws or ipc); empty means no wallet"`
	ContractAddress string `long:"contract" env:"CONTRACT_ADDRESS" description:"Address of the collection contract"`
	ChainID         string `long:"chainid" env:"TARGET_CHAIN_ID" description:"Chain id the collection is deployed on, hex or decimal"`
	ArtifactPath    string `long:"artifact" env:"CONTRACT_ARTIFACT" description:"Compiler artifact or ABI file; defaults to the embedded ABI"`
	ExhaustedReason string `long:"exhaustedreason" env:"EXHAUSTED_REASON" default:"All NFTs have been minted" description:"Revert reason substring reported once the supply is exhausted"`

	ConfirmTimeout time.Duration `long:"confirmtimeout" env:"CONFIRM_TIMEOUT" default:"0s" description:"Give up on a pending mint after this long; 0 waits forever"`
	ReceiptPoll    time.Duration `long:"receiptpoll" env:"RECEIPT_POLL" default:"2s" description:"Interval between receipt lookups"`
	AccountPoll    time.Duration `long:"accountpoll" env:"ACCOUNT_POLL" default:"5s" description:"Interval between silent wallet account checks; 0 disables"`
	RPCTimeout     time.Duration `long:"rpctimeout" env:"RPC_TIMEOUT" default:"30s" description:"Timeout for dialing the wallet and for each silent wallet query or supply read; connect prompts and sends are not bounded"`

	AssetURL      string `long:"asseturl" env:"ASSET_URL" default:"https://testnets.opensea.io/assets" description:"Marketplace prefix for a single token"`
	CollectionURL string `long:"collectionurl" env:"COLLECTION_URL" description:"Marketplace link to the whole collection"`

	HTTPPort             int           `long:"httpport" env:"API_HTTP_PORT" default:"3000" description:"Port of the HTTP API"`
	HMACSecret           string        `long:"hmacsecret" env:"HMAC_SECRET" description:"Shared secret for signed intents; empty disables signing"`
	HMACClockSkew        time.Duration `long:"hmacskew" env:"HMAC_CLOCK_SKEW" default:"60s" description:"Accepted clock skew for signed intents"`
	IdempotencyWindow    time.Duration `long:"idemwindow" env:"IDEMPOTENCY_WINDOW" default:"10m" description:"How long a mint response is replayed for the same key"`
	IdempotencyStorePath string        `long:"idemstore" env:"IDEMPOTENCY_STORE_PATH" description:"File backing the idempotency store"`
	PostgresDSN          string        `long:"postgresdsn" env:"POSTGRES_DSN" description:"Use PostgreSQL for the idempotency store"`

	LogLevel string `long:"loglevel" env:"LOG_LEVEL" default:"info" description:"Log level, optionally per subsystem: info,MINT=debug"`

	Simulate       bool   `long:"simulate" env:"SIMULATE" description:"Run against an in-memory wallet and collection"`
	SimulateSupply uint64 `long:"simulatesupply" env:"SIMULATE_SUPPLY" default:"50" description:"Collection size in simulation mode"`

	Deployment *DeploymentConfig `no-flag:"true"`
}

// Load parses args on top of the environment and defaults, then resolves the
// deployment file.
func Load(args []string) (*Config, error) {
	cfg, _, err := Parse(args, flags.Default)
	if err != nil {
		return nil, err
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse only applies flags, environment and defaults. It returns the
// arguments left over.
func Parse(args []string, opts flags.Options) (*Config, []string, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, opts)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, rest, nil
}

// IsHelp reports whether err is go-flags' help request.
func IsHelp(err error) bool {
	var fe *flags.Error
	return errors.As(err, &fe) && fe.Type == flags.ErrHelp
}

// Resolve fills unset values from the deployments file and validates the
// result.
func (c *Config) Resolve() error {
	dep, err := loadDeployments(c.DeploymentsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("load deployments: %w", err)
	default:
		c.Deployment = dep
		if c.ContractAddress == "" {
			c.ContractAddress = dep.Contracts.EpicNFT
		}
		if c.ChainID == "" {
			c.ChainID = string(dep.ChainID)
		}
		if c.ArtifactPath == "" && dep.Artifact != "" {
			c.ArtifactPath = filepath.Join(filepath.Dir(c.DeploymentsPath), dep.Artifact)
		}
	}

	if c.IdempotencyStorePath == "" {
		c.IdempotencyStorePath = filepath.Join(os.TempDir(), "nftmint-intents.json")
	}
	if c.ExhaustedReason == "" {
		c.ExhaustedReason = contracts.SupplyExhaustedReason
	}

	if c.Simulate {
		if c.ChainID == "" {
			c.ChainID = "0x4"
		}
		if c.ContractAddress == "" {
			c.ContractAddress = common.Address{}.Hex()
		}
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.ChainID == "" {
		return errors.New("target chain id is required (--chainid or deployments.json)")
	}
	if !validChainID(c.ChainID) {
		return fmt.Errorf("invalid chain id %q", c.ChainID)
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract address %q", c.ContractAddress)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.ConfirmTimeout < 0 {
		return errors.New("confirm timeout must not be negative")
	}
	return nil
}

func validChainID(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	if rest, ok := strings.CutPrefix(id, "0x"); ok {
		_, err := strconv.ParseUint(rest, 16, 64)
		return err == nil
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
