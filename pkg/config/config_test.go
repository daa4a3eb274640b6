package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
chains:
  - chainId: 1
    name: mainnet
    rpcEndpoints: ["http://rpc-a", "http://rpc-b"]
    spokePools:
      - address: "0x4D9079Bb4165aeb4084c526a32695dCfd2F77381"
        version: "2"
        startBlock: 100
      - address: "0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5"
        startBlock: 50
  - chainId: 10
    name: optimism
    rpcEndpoints: ["http://rpc-op"]
    merkleDistributor:
      address: "0xE50b2cEAC4f60E840Ae513924033E753e2366487"
      startBlock: 7
tokens:
  USDC: usd-coin
rewards:
  opRebate:
    chainId: 10
    rate: "0.95"
    start: 2023-06-01T00:00:00Z
    end: 2023-12-01T00:00:00Z
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 2)

	mainnet, ok := cfg.Chain(1)
	require.True(t, ok)
	require.Equal(t, uint64(5_000), mainnet.MaxBlockRange)
	require.Equal(t, 30*time.Second, mainnet.CallTimeout)
	require.Equal(t, SpokePoolV25, mainnet.SpokePools[1].Version)
	require.Equal(t, uint64(50), mainnet.StartBlock())
	require.Len(t, mainnet.SpokePoolAddresses(), 2)

	require.Equal(t, "ACX", cfg.Rewards.AcxSymbol)
	require.Equal(t, time.Date(2022, 7, 22, 17, 0, 0, 0, time.UTC), cfg.Rewards.MultiplierCutoffs[0])
	require.Equal(t, "OP", cfg.Rewards.OpRebate.RewardSymbol)
}

func TestValidateRejectsBadChains(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  - chainId: 1
    rpcEndpoints: ["http://a"]
    spokePools: [{address: "nope"}]
  - chainId: 1
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad spoke pool address")
	require.Contains(t, err.Error(), "duplicate chainId 1")
	require.Contains(t, err.Error(), "no rpcEndpoints")
}

func TestValidateRejectsUnorderedCutoffs(t *testing.T) {
	_, err := Parse([]byte(`
rewards:
  multiplierCutoffs: [2023-01-01T00:00:00Z, 2022-01-01T00:00:00Z]
`))
	require.ErrorContains(t, err, "multiplierCutoffs")
}
