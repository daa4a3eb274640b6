package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Contract ABI revisions understood by the decoder.
const (
	SpokePoolV2  = "2"
	SpokePoolV25 = "2.5"
)

type Config struct {
	Chains  []Chain           `yaml:"chains"`
	Tokens  map[string]string `yaml:"tokens"` // symbol -> price feed id
	Rewards Rewards           `yaml:"rewards"`
}

type Chain struct {
	ChainID           uint64             `yaml:"chainId"`
	Name              string             `yaml:"name"`
	RPCEndpoints      []string           `yaml:"rpcEndpoints"`
	RPS               int                `yaml:"rps"`
	Burst             int                `yaml:"burst"`
	Confirmations     uint64             `yaml:"confirmations"`
	MaxBlockRange     uint64             `yaml:"maxBlockRange"`
	CallTimeout       time.Duration      `yaml:"callTimeout"`
	SpokePools        []SpokePool        `yaml:"spokePools"`
	MerkleDistributor *MerkleDistributor `yaml:"merkleDistributor"`
}

type SpokePool struct {
	Address    string `yaml:"address"`
	Version    string `yaml:"version"`
	StartBlock uint64 `yaml:"startBlock"`
}

type MerkleDistributor struct {
	Address    string `yaml:"address"`
	StartBlock uint64 `yaml:"startBlock"`
}

type Rewards struct {
	AcxSymbol         string      `yaml:"acxSymbol"`
	MultiplierCutoffs []time.Time `yaml:"multiplierCutoffs"`
	MaxLpFeePct       string      `yaml:"maxLpFeePct"`
	OpRebate          OpRebate    `yaml:"opRebate"`
}

type OpRebate struct {
	ChainID      uint64    `yaml:"chainId"`
	Rate         string    `yaml:"rate"`
	Start        time.Time `yaml:"start"`
	End          time.Time `yaml:"end"`
	RewardSymbol string    `yaml:"rewardSymbol"`
}

// Load reads and validates the YAML file at path, filling defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.MaxBlockRange == 0 {
			ch.MaxBlockRange = 5_000
		}
		if ch.CallTimeout == 0 {
			ch.CallTimeout = 30 * time.Second
		}
		if ch.RPS == 0 {
			ch.RPS = 10
		}
		if ch.Burst == 0 {
			ch.Burst = ch.RPS * 2
		}
		for j := range ch.SpokePools {
			if ch.SpokePools[j].Version == "" {
				ch.SpokePools[j].Version = SpokePoolV25
			}
		}
	}
	if c.Rewards.AcxSymbol == "" {
		c.Rewards.AcxSymbol = "ACX"
	}
	if len(c.Rewards.MultiplierCutoffs) == 0 {
		c.Rewards.MultiplierCutoffs = []time.Time{
			time.Date(2022, 7, 22, 17, 0, 0, 0, time.UTC),
			time.Date(2022, 12, 13, 0, 0, 0, 0, time.UTC),
		}
	}
	if c.Rewards.MaxLpFeePct == "" {
		c.Rewards.MaxLpFeePct = "1000000000000000000"
	}
	if c.Rewards.OpRebate.RewardSymbol == "" {
		c.Rewards.OpRebate.RewardSymbol = "OP"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	seen := map[uint64]bool{}
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			errs = append(errs, errors.New("chain with empty chainId"))
			continue
		}
		if seen[ch.ChainID] {
			errs = append(errs, fmt.Errorf("duplicate chainId %d", ch.ChainID))
		}
		seen[ch.ChainID] = true
		if len(ch.RPCEndpoints) == 0 {
			errs = append(errs, fmt.Errorf("chain %d: no rpcEndpoints", ch.ChainID))
		}
		for _, sp := range ch.SpokePools {
			if !common.IsHexAddress(sp.Address) {
				errs = append(errs, fmt.Errorf("chain %d: bad spoke pool address %q", ch.ChainID, sp.Address))
			}
			if sp.Version != SpokePoolV2 && sp.Version != SpokePoolV25 {
				errs = append(errs, fmt.Errorf("chain %d: unsupported spoke pool version %q", ch.ChainID, sp.Version))
			}
		}
		if md := ch.MerkleDistributor; md != nil && !common.IsHexAddress(md.Address) {
			errs = append(errs, fmt.Errorf("chain %d: bad merkle distributor address %q", ch.ChainID, md.Address))
		}
	}

	cut := c.Rewards.MultiplierCutoffs
	if len(cut) != 2 || !cut[0].Before(cut[1]) {
		errs = append(errs, errors.New("rewards.multiplierCutoffs must be two increasing instants"))
	}
	if _, err := decimal.NewFromString(c.Rewards.MaxLpFeePct); err != nil {
		errs = append(errs, fmt.Errorf("rewards.maxLpFeePct: %w", err))
	}
	if r := c.Rewards.OpRebate.Rate; r != "" {
		if _, err := decimal.NewFromString(r); err != nil {
			errs = append(errs, fmt.Errorf("rewards.opRebate.rate: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Chain returns the configuration for chainID.
func (c *Config) Chain(chainID uint64) (Chain, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return Chain{}, false
}

// SpokePoolAddresses lists every configured spoke pool on the chain.
func (ch Chain) SpokePoolAddresses() []common.Address {
	out := make([]common.Address, 0, len(ch.SpokePools))
	for _, sp := range ch.SpokePools {
		out = append(out, common.HexToAddress(sp.Address))
	}
	return out
}

// StartBlock is the lowest deployment block among the chain's spoke pools.
func (ch Chain) StartBlock() uint64 {
	var start uint64
	for i, sp := range ch.SpokePools {
		if i == 0 || sp.StartBlock < start {
			start = sp.StartBlock
		}
	}
	return start
}
