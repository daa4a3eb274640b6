package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// SpokePool v2: uint64 fees, applied relayer fee reported on fills.
const spokePoolV2ABI = `[
{"anonymous":false,"name":"FundsDeposited","type":"event","inputs":[
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":false,"name":"originChainId","type":"uint256"},
 {"indexed":true,"name":"destinationChainId","type":"uint256"},
 {"indexed":false,"name":"relayerFeePct","type":"uint64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":false,"name":"quoteTimestamp","type":"uint32"},
 {"indexed":false,"name":"originToken","type":"address"},
 {"indexed":false,"name":"recipient","type":"address"},
 {"indexed":true,"name":"depositor","type":"address"}]},
{"anonymous":false,"name":"FilledRelay","type":"event","inputs":[
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":false,"name":"totalFilledAmount","type":"uint256"},
 {"indexed":false,"name":"fillAmount","type":"uint256"},
 {"indexed":false,"name":"repaymentChainId","type":"uint256"},
 {"indexed":true,"name":"originChainId","type":"uint256"},
 {"indexed":false,"name":"destinationChainId","type":"uint256"},
 {"indexed":false,"name":"relayerFeePct","type":"uint64"},
 {"indexed":false,"name":"appliedRelayerFeePct","type":"uint64"},
 {"indexed":false,"name":"realizedLpFeePct","type":"uint64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":false,"name":"destinationToken","type":"address"},
 {"indexed":false,"name":"relayer","type":"address"},
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"recipient","type":"address"},
 {"indexed":false,"name":"isSlowRelay","type":"bool"}]},
{"anonymous":false,"name":"RequestedSpeedUpDeposit","type":"event","inputs":[
 {"indexed":false,"name":"newRelayerFeePct","type":"uint64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"depositorSignature","type":"bytes"}]}
]`

// SpokePool v2.5: signed fees, deposit messages, updatable relay data on fills, refund requests.
const spokePoolV25ABI = `[
{"anonymous":false,"name":"FundsDeposited","type":"event","inputs":[
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":false,"name":"originChainId","type":"uint256"},
 {"indexed":true,"name":"destinationChainId","type":"uint256"},
 {"indexed":false,"name":"relayerFeePct","type":"int64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":false,"name":"quoteTimestamp","type":"uint32"},
 {"indexed":false,"name":"originToken","type":"address"},
 {"indexed":false,"name":"recipient","type":"address"},
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"message","type":"bytes"}]},
{"anonymous":false,"name":"FilledRelay","type":"event","inputs":[
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":false,"name":"totalFilledAmount","type":"uint256"},
 {"indexed":false,"name":"fillAmount","type":"uint256"},
 {"indexed":false,"name":"repaymentChainId","type":"uint256"},
 {"indexed":true,"name":"originChainId","type":"uint256"},
 {"indexed":false,"name":"destinationChainId","type":"uint256"},
 {"indexed":false,"name":"relayerFeePct","type":"int64"},
 {"indexed":false,"name":"realizedLpFeePct","type":"int64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":false,"name":"destinationToken","type":"address"},
 {"indexed":false,"name":"relayer","type":"address"},
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"recipient","type":"address"},
 {"indexed":false,"name":"message","type":"bytes"},
 {"indexed":false,"name":"updatableRelayData","type":"tuple","components":[
  {"name":"recipient","type":"address"},
  {"name":"message","type":"bytes"},
  {"name":"relayerFeePct","type":"int64"},
  {"name":"isSlowRelay","type":"bool"},
  {"name":"payoutAdjustmentPct","type":"int256"}]}]},
{"anonymous":false,"name":"RequestedSpeedUpDeposit","type":"event","inputs":[
 {"indexed":false,"name":"newRelayerFeePct","type":"int64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"updatedRecipient","type":"address"},
 {"indexed":false,"name":"updatedMessage","type":"bytes"},
 {"indexed":false,"name":"depositorSignature","type":"bytes"}]},
{"anonymous":false,"name":"RefundRequested","type":"event","inputs":[
 {"indexed":true,"name":"relayer","type":"address"},
 {"indexed":false,"name":"refundToken","type":"address"},
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":true,"name":"originChainId","type":"uint256"},
 {"indexed":false,"name":"destinationChainId","type":"uint256"},
 {"indexed":false,"name":"realizedLpFeePct","type":"int64"},
 {"indexed":true,"name":"depositId","type":"uint32"},
 {"indexed":false,"name":"fillBlock","type":"uint256"},
 {"indexed":false,"name":"previousIdenticalRequests","type":"uint256"}]}
]`

const merkleDistributorABI = `[
{"anonymous":false,"name":"Claimed","type":"event","inputs":[
 {"indexed":true,"name":"caller","type":"address"},
 {"indexed":false,"name":"windowIndex","type":"uint256"},
 {"indexed":true,"name":"account","type":"address"},
 {"indexed":false,"name":"accountIndex","type":"uint256"},
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":true,"name":"rewardToken","type":"address"}]}
]`

var (
	SpokePoolV2       = mustABI(spokePoolV2ABI)
	SpokePoolV25      = mustABI(spokePoolV25ABI)
	MerkleDistributor = mustABI(merkleDistributorABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
