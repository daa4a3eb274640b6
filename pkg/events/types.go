package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FillShape names the two historical layouts of a recorded fill.
type FillShape string

const (
	// FillShapeApplied fills carry appliedRelayerFeePct (SpokePool v2).
	FillShapeApplied FillShape = "applied"
	// FillShapeRelayer fills carry only relayerFeePct (SpokePool v2.5).
	FillShapeRelayer FillShape = "relayer"
)

// Meta locates a log on chain.
type Meta struct {
	ChainID     uint64
	Contract    common.Address
	Version     string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Event is implemented by every decoded log.
type Event interface {
	EventMeta() Meta
}

type DepositCreated struct {
	Meta
	DepositID          uint32
	OriginChainID      uint64
	DestinationChainID uint64
	Amount             *big.Int
	RelayerFeePct      *big.Int
	QuoteTimestamp     uint32
	OriginToken        common.Address
	Recipient          common.Address
	Depositor          common.Address
	Message            []byte
}

type DepositFilled struct {
	Meta
	Shape                FillShape
	DepositID            uint32
	OriginChainID        uint64
	DestinationChainID   uint64
	RepaymentChainID     uint64
	Amount               *big.Int
	TotalFilledAmount    *big.Int
	FillAmount           *big.Int
	RelayerFeePct        *big.Int
	AppliedRelayerFeePct *big.Int // nil for FillShapeRelayer
	RealizedLpFeePct     *big.Int
	DestinationToken     common.Address
	Relayer              common.Address
	Depositor            common.Address
	Recipient            common.Address
	IsSlowRelay          bool
}

type SpeedUpRequested struct {
	Meta
	DepositID          uint32
	Depositor          common.Address
	NewRelayerFeePct   *big.Int
	DepositorSignature []byte
	UpdatedRecipient   *common.Address
	UpdatedMessage     []byte
}

type RefundRequested struct {
	Meta
	DepositID          uint32
	OriginChainID      uint64
	DestinationChainID uint64
	Relayer            common.Address
	RefundToken        common.Address
	Amount             *big.Int
	RealizedLpFeePct   *big.Int
	FillBlock          uint64
}

// Claimed is a MerkleDistributor reward claim.
type Claimed struct {
	Meta
	WindowIndex  uint64
	AccountIndex uint64
	Account      common.Address
	Caller       common.Address
	RewardToken  common.Address
	Amount       *big.Int
}

func (m Meta) EventMeta() Meta { return m }
